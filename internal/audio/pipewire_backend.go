package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// pipewireFormat is what pw-record is asked to deliver. It matches the
// PipeWire graph default so no conversion happens on the server side.
var pipewireFormat = Format{Sample: SampleS16, Channels: 2, SampleRate: 48000}

// pipewireStopTimeout bounds how long pw-record may take to exit after SIGINT.
const pipewireStopTimeout = 2 * time.Second

// PipeWireBackend captures through a pw-record child process streaming raw
// PCM on stdout.
type PipeWireBackend struct {
	device  string
	pw      *PipeWire
	lookup  func(file string) (string, error)
	command func(target string, f Format) *exec.Cmd
}

// NewPipeWireBackend creates a backend recording from the node matching
// device, or the graph default when device is empty.
func NewPipeWireBackend(device string) *PipeWireBackend {
	return &PipeWireBackend{
		device:  device,
		pw:      NewPipeWire(),
		lookup:  exec.LookPath,
		command: recordCommand,
	}
}

func (b *PipeWireBackend) GetType() BackendType {
	return BackendTypePipeWire
}

func (b *PipeWireBackend) ListDevices() ([]DeviceInfo, error) {
	nodes, err := b.pw.ListNodes()
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, len(nodes))
	for _, node := range nodes {
		devices = append(devices, DeviceInfo{Name: node, Backend: BackendTypePipeWire})
	}
	return devices, nil
}

func (b *PipeWireBackend) OpenDefault(ctx context.Context) (Device, error) {
	if _, err := b.lookup("pw-record"); err != nil {
		return nil, fmt.Errorf("%w: pw-record not found in PATH", ErrNoInputDevice)
	}

	target, name := "", "pipewire default"
	if b.device != "" {
		node, err := b.pw.ResolveTarget(b.device)
		if err != nil {
			return nil, err
		}
		target, name = node, node
	}

	return newCommandDevice(name, pipewireFormat, b.command(target, pipewireFormat)), nil
}

func recordCommand(target string, f Format) *exec.Cmd {
	args := []string{
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", f.Sample.String(),
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	args = append(args, "-")
	return exec.Command("pw-record", args...)
}

// commandDevice reads raw interleaved PCM from a child process's stdout.
type commandDevice struct {
	name   string
	format Format
	cmd    *exec.Cmd
	stderr bytes.Buffer
	faults chan error

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	waitErr   error
}

func newCommandDevice(name string, format Format, cmd *exec.Cmd) *commandDevice {
	return &commandDevice{
		name:   name,
		format: format,
		cmd:    cmd,
		faults: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (d *commandDevice) Name() string         { return d.name }
func (d *commandDevice) Format() Format       { return d.format }
func (d *commandDevice) Faults() <-chan error { return d.faults }

func (d *commandDevice) Start(sink Sink) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("capture process already started")
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	d.cmd.Stderr = &d.stderr

	slog.Debug("Starting capture process", "command", d.cmd.String())
	if err := d.cmd.Start(); err != nil {
		close(d.done)
		return fmt.Errorf("failed to start %s: %w", d.cmd.Path, err)
	}

	go d.run(sink, stdout)
	return nil
}

func (d *commandDevice) run(sink Sink, stdout io.Reader) {
	defer close(d.done)

	group := d.format.BytesPerFrame()
	buf := make([]byte, group*d.format.SampleRate/50) // 20 ms
	pending := 0
	for {
		n, err := stdout.Read(buf[pending:])
		pending += n
		// only whole sample groups reach the sink
		if aligned := pending - pending%group; aligned > 0 {
			sink.Write(buf[:aligned])
			pending = copy(buf, buf[aligned:pending])
		}
		if err != nil {
			break
		}
	}

	d.waitErr = d.cmd.Wait()
	if d.closing.Load() {
		return
	}

	cause := d.waitErr
	if cause == nil {
		cause = errors.New("process exited")
	}
	if msg := bytes.TrimSpace(d.stderr.Bytes()); len(msg) > 0 {
		cause = fmt.Errorf("%w: %s", cause, msg)
	}
	d.faults <- fmt.Errorf("%w: %s: %w", ErrDeviceStopped, d.name, cause)
}

func (d *commandDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		if !d.started.Load() || d.cmd.Process == nil {
			return
		}

		if err := d.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt capture process", "error", err)
		}
		select {
		case <-d.done:
		case <-time.After(pipewireStopTimeout):
			slog.Warn("Capture process did not exit within timeout, force killing", "device", d.name)
			d.cmd.Process.Kill()
			<-d.done
		}
	})
	return nil
}
