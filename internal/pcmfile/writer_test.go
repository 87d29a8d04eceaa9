package pcmfile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

func frame(value int16) []int16 {
	f := make([]int16, pipeline.FrameSize)
	for i := range f {
		f[i] = value
	}
	return f
}

func TestCreate_WritesPlaceholderHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, 48000, 1, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Finalize()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != HeaderSize {
		t.Fatalf("Expected %d header bytes, got %d", HeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("Unexpected header tags: %q", data)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != 0 {
		t.Errorf("Expected zero RIFF size placeholder, got %d", v)
	}
	if v := binary.LittleEndian.Uint32(data[40:]); v != 0 {
		t.Errorf("Expected zero data size placeholder, got %d", v)
	}
}

func TestCreate_BadPath(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing", "voice.wav"), 48000, 1, 0)
	if !errors.Is(err, ErrFileCreate) {
		t.Errorf("Expected ErrFileCreate, got %v", err)
	}
}

func TestWriter_HeaderMatchesPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, 48000, 1, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const frames = 7
	for i := 0; i < frames; i++ {
		if err := w.WriteFrame(frame(int16(i * 100))); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}

	wantData := uint32(frames * pipeline.FrameSize * 2)
	if info.DataSize != wantData {
		t.Errorf("Expected data size %d, got %d", wantData, info.DataSize)
	}
	if info.FileSize != int64(wantData)+HeaderSize {
		t.Errorf("Expected file size %d, got %d", int64(wantData)+HeaderSize, info.FileSize)
	}
	if !info.Consistent() {
		t.Errorf("Expected consistent header, got %+v", info)
	}
	if info.SampleRate != 48000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("Unexpected format: %+v", info)
	}
	if w.Frames() != frames || w.DataBytes() != int64(wantData) {
		t.Errorf("Expected %d frames/%d bytes, got %d/%d", frames, wantData, w.Frames(), w.DataBytes())
	}
}

func TestWriter_SamplesReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, 48000, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	samples := frame(0)
	samples[0], samples[1], samples[2] = 32767, -32768, -1
	if err := w.WriteFrame(samples); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(buf.Data) != pipeline.FrameSize {
		t.Fatalf("Expected %d samples, got %d", pipeline.FrameSize, len(buf.Data))
	}
	for i, want := range []int{32767, -32768, -1, 0} {
		if buf.Data[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, buf.Data[i])
		}
	}
}

func TestWriter_PadsShortFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, 48000, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	short := make([]int16, 100)
	for i := range short {
		short[i] = 7
	}
	if err := w.WriteFrame(short); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != HeaderSize+pipeline.FrameSize*2 {
		t.Fatalf("Expected one padded frame, got %d bytes", len(data))
	}
	if v := int16(binary.LittleEndian.Uint16(data[HeaderSize+99*2:])); v != 7 {
		t.Errorf("Expected last real sample 7, got %d", v)
	}
	for off := HeaderSize + 100*2; off < len(data); off += 2 {
		if data[off] != 0 || data[off+1] != 0 {
			t.Fatalf("Expected zero padding at byte %d", off)
		}
	}
}

func TestWriter_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.wav")
	w, err := Create(path, 48000, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.WriteFrame(make([]int16, pipeline.FrameSize+1)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("Expected ErrFrameSize, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := w.WriteFrame(frame(1)); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}
	if !w.Full() {
		t.Error("Expected writer to be full")
	}
	if err := w.WriteFrame(frame(1)); !errors.Is(err, ErrFrameCap) {
		t.Errorf("Expected ErrFrameCap, got %v", err)
	}

	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Errorf("Second Finalize should be a no-op, got %v", err)
	}
	if err := w.WriteFrame(frame(1)); !errors.Is(err, ErrFinalized) {
		t.Errorf("Expected ErrFinalized, got %v", err)
	}
}

func TestMaxFrames(t *testing.T) {
	tests := []struct {
		seconds int
		want    int64
	}{
		{0, 0},
		{-3, 0},
		{1, 50},
		{5, 250},
		{300, 15000},
	}
	for _, tt := range tests {
		if got := MaxFrames(tt.seconds); got != tt.want {
			t.Errorf("MaxFrames(%d): expected %d, got %d", tt.seconds, tt.want, got)
		}
	}
}
