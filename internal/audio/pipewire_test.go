package audio

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

const pwLinkOutput = `Scarlett 2i2 USB:capture_FL
Scarlett 2i2 USB:capture_FR
Chrome:output_FL
Chrome:output_FL
Chrome-2:output_FL
alsa_input.pci-0000_00_1f.3.analog-stereo:capture_MONO
`

func fakePipeWire(output string, err error) *PipeWire {
	return &PipeWire{output: func(name string, args ...string) ([]byte, error) {
		return []byte(output), err
	}}
}

func TestParsePorts(t *testing.T) {
	ports := parsePorts("Output ports:\n  system:capture_1\n\n  Firefox:output_FL\n")
	if len(ports) != 2 || ports[0] != "system:capture_1" || ports[1] != "Firefox:output_FL" {
		t.Errorf("Unexpected ports: %v", ports)
	}
}

func TestListNodes(t *testing.T) {
	nodes, err := fakePipeWire(pwLinkOutput, nil).ListNodes()
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"Scarlett 2i2 USB", "Chrome", "Chrome-2", "alsa_input.pci-0000_00_1f.3.analog-stereo"}
	if len(nodes) != len(expected) {
		t.Fatalf("Expected %d nodes, got %d: %v", len(expected), len(nodes), nodes)
	}
	for i := range expected {
		if nodes[i] != expected[i] {
			t.Errorf("Node %d: expected %q, got %q", i, expected[i], nodes[i])
		}
	}
}

func TestFindPortDuplicates(t *testing.T) {
	mockPorts := []string{
		"Chrome:output_FL",
		"Chrome:output_FL",   // True duplicate - same name appears twice
		"Chrome-2:output_FL", // Different instance - NOT a duplicate
		"Firefox:output_FL",
	}

	if got := findPortDuplicates("Chrome:output_FL", mockPorts); len(got) != 2 {
		t.Errorf("Expected 2 duplicates, got %d: %v", len(got), got)
	}
	if got := findPortDuplicates("Chrome-2:output_FL", mockPorts); len(got) != 1 {
		t.Errorf("Expected only itself, got %d: %v", len(got), got)
	}
}

func TestResolveTarget(t *testing.T) {
	pw := fakePipeWire(pwLinkOutput, nil)

	node, err := pw.ResolveTarget("scarlett")
	if err != nil {
		t.Fatalf("Expected match, got %v", err)
	}
	if node != "Scarlett 2i2 USB" {
		t.Errorf("Expected Scarlett node, got %q", node)
	}

	if _, err := pw.ResolveTarget("Chrome"); err == nil || !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected duplicate sources error, got %v", err)
	}

	if _, err := pw.ResolveTarget("nonexistent"); !errors.Is(err, ErrNoInputDevice) {
		t.Errorf("Expected ErrNoInputDevice, got %v", err)
	}

	broken := fakePipeWire("", errors.New("pw-link: not found"))
	if _, err := broken.ResolveTarget("anything"); err == nil {
		t.Error("Expected error when pw-link fails")
	}
}

func TestPipeWireOpenDefault_NoRecorder(t *testing.T) {
	b := NewPipeWireBackend("")
	b.lookup = func(string) (string, error) { return "", exec.ErrNotFound }

	if _, err := b.OpenDefault(context.Background()); !errors.Is(err, ErrNoInputDevice) {
		t.Errorf("Expected ErrNoInputDevice, got %v", err)
	}
}

func TestPipeWireOpenDefault_Target(t *testing.T) {
	var gotTarget string
	b := NewPipeWireBackend("alsa_input")
	b.pw = fakePipeWire(pwLinkOutput, nil)
	b.lookup = func(string) (string, error) { return "/usr/bin/pw-record", nil }
	b.command = func(target string, f Format) *exec.Cmd {
		gotTarget = target
		return exec.Command("true")
	}

	dev, err := b.OpenDefault(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if gotTarget != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("Expected resolved target, got %q", gotTarget)
	}
	if dev.Format() != pipewireFormat {
		t.Errorf("Expected %s, got %s", pipewireFormat, dev.Format())
	}
}

func TestRecordCommand(t *testing.T) {
	cmd := recordCommand("mic", pipewireFormat)
	expected := []string{"pw-record", "--rate", "48000", "--channels", "2", "--format", "s16", "--target", "mic", "-"}
	if strings.Join(cmd.Args, " ") != strings.Join(expected, " ") {
		t.Errorf("Expected %v, got %v", expected, cmd.Args)
	}
}

type collectSink struct {
	mu     sync.Mutex
	total  int
	uneven int
}

func (s *collectSink) Write(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += len(p)
	if len(p)%4 != 0 {
		s.uneven++
	}
	return len(p)
}

func TestCommandDevice_StreamsAlignedBlocks(t *testing.T) {
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}

	// two stray bytes after the last whole stereo group
	cmd := exec.Command("head", "-c", "19202", "/dev/zero")
	dev := newCommandDevice("test", pipewireFormat, cmd)
	sink := &collectSink{}

	if err := dev.Start(sink); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-dev.Faults():
		if !errors.Is(err, ErrDeviceStopped) {
			t.Errorf("Expected ErrDeviceStopped, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a fault when the process exits")
	}
	dev.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.total != 19200 {
		t.Errorf("Expected 19200 bytes, got %d", sink.total)
	}
	if sink.uneven != 0 {
		t.Errorf("Expected only whole sample groups, got %d uneven writes", sink.uneven)
	}
}

func TestCommandDevice_CloseIsQuiet(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	dev := newCommandDevice("test", pipewireFormat, exec.Command("sleep", "10"))
	if err := dev.Start(&collectSink{}); err != nil {
		t.Fatal(err)
	}
	if err := dev.Start(&collectSink{}); err == nil {
		t.Error("Expected second start to fail")
	}

	start := time.Now()
	dev.Close()
	dev.Close()
	if elapsed := time.Since(start); elapsed > pipewireStopTimeout+time.Second {
		t.Errorf("Close took %v", elapsed)
	}

	select {
	case err := <-dev.Faults():
		t.Errorf("Expected no fault after Close, got %v", err)
	default:
	}
}
