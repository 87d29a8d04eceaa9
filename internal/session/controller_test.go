package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
)

type fakeBackend struct {
	format   audio.Format
	preload  []byte // written into the sink on Start
	stream   bool   // keep producing silence until closed
	openErr  error
	startErr error
	// when set, Close blocks until it is closed
	closeBlock chan struct{}

	mu      sync.Mutex
	devices []*fakeDevice
}

func (b *fakeBackend) OpenDefault(context.Context) (audio.Device, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	d := &fakeDevice{
		format:   b.format,
		preload:  b.preload,
		stream:   b.stream,
		startErr: b.startErr,
		release:  b.closeBlock,
		faults:   make(chan error, 1),
		quit:     make(chan struct{}),
	}
	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
	return d, nil
}

func (b *fakeBackend) ListDevices() ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{{Name: "fake", IsDefault: true}}, nil
}

func (b *fakeBackend) GetType() audio.BackendType { return "fake" }

func (b *fakeBackend) lastDevice() *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[len(b.devices)-1]
}

type fakeDevice struct {
	format   audio.Format
	preload  []byte
	stream   bool
	startErr error
	release  chan struct{}
	faults   chan error

	quit       chan struct{}
	wg         sync.WaitGroup
	closeMu    sync.Mutex
	closeCalls int
}

func (d *fakeDevice) Name() string         { return "fake" }
func (d *fakeDevice) Format() audio.Format { return d.format }
func (d *fakeDevice) Faults() <-chan error { return d.faults }

func (d *fakeDevice) Start(sink audio.Sink) error {
	if d.startErr != nil {
		return d.startErr
	}
	block := d.format.SampleRate / 100 * d.format.BytesPerFrame()
	for off := 0; off < len(d.preload); off += block {
		end := min(off+block, len(d.preload))
		sink.Write(d.preload[off:end])
	}
	if d.stream {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			silence := make([]byte, block)
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-d.quit:
					return
				case <-ticker.C:
					sink.Write(silence)
				}
			}
		}()
	}
	return nil
}

func (d *fakeDevice) Close() error {
	if d.release != nil {
		<-d.release
	}
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	d.closeCalls++
	if d.closeCalls == 1 {
		close(d.quit)
		d.wg.Wait()
	}
	return nil
}

func (d *fakeDevice) closes() int {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	return d.closeCalls
}

type recordingSink struct {
	mu      sync.Mutex
	started []Status
	ended   chan Ended
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ended: make(chan Ended, 4)}
}

func (s *recordingSink) SessionStarted(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, status)
}

func (s *recordingSink) SessionEnded(e Ended) { s.ended <- e }

var monoS16 = audio.Format{Sample: audio.SampleS16, Channels: 1, SampleRate: 48000}

func newTestController(backend audio.AudioBackend, events EventSink) *Controller {
	return NewController(backend, Options{
		FinalizeTimeout: 5 * time.Second,
		PollInterval:    10 * time.Millisecond,
		Events:          events,
	})
}

// waitForFrames blocks until the encoder has committed at least one frame, so
// a following Stop produces a file above the minimum size.
func waitForFrames(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Status().FramesWritten == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected frames to be written")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errDiskFull = errors.New("no space left on device")

// failingWriter passes frames through until failAfter frames were written.
type failingWriter struct {
	pcmfile.FrameWriter
	failAfter int64
}

func (w *failingWriter) WriteFrame(samples []int16) error {
	if w.Frames() >= w.failAfter {
		return errDiskFull
	}
	return w.FrameWriter.WriteFrame(samples)
}

func TestController_RecordsSilence(t *testing.T) {
	backend := &fakeBackend{format: monoS16, preload: make([]byte, 2*48000*2)}
	events := newRecordingSink()
	c := newTestController(backend, events)
	dir := filepath.Join(t.TempDir(), "rec")

	res, err := c.Start(context.Background(), dir, 5)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.SampleRate != 48000 || res.Channels != 1 {
		t.Errorf("Expected 48000 Hz mono, got %+v", res)
	}
	if filepath.Dir(res.OutputPath) != dir {
		t.Errorf("Expected file in %s, got %s", dir, res.OutputPath)
	}

	status := c.Status()
	if !status.IsRecording || status.OutputPath != res.OutputPath || status.SessionID != res.SessionID {
		t.Errorf("Unexpected status while recording: %+v", status)
	}

	path, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if path != res.OutputPath {
		t.Errorf("Expected path %s, got %s", res.OutputPath, path)
	}

	info, err := pcmfile.Inspect(path)
	if err != nil {
		t.Fatal(err)
	}
	want := int64(44 + 2*48000*2)
	if diff := info.FileSize - want; diff < 0 || diff > 960*2 {
		t.Errorf("Expected file size %d (+ at most one frame), got %d", want, info.FileSize)
	}
	if !info.Consistent() {
		t.Errorf("Header does not match payload: %+v", info)
	}

	if c.Status().IsRecording {
		t.Error("Expected not recording after stop")
	}
	if n := backend.lastDevice().closes(); n != 1 {
		t.Errorf("Expected device closed once, got %d", n)
	}

	select {
	case e := <-events.ended:
		if e.Reason != ReasonStopped || e.Err != nil {
			t.Errorf("Unexpected end event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("Expected end event")
	}
}

func TestController_DoubleStart(t *testing.T) {
	backend := &fakeBackend{format: monoS16, stream: true}
	c := newTestController(backend, nil)
	dir := t.TempDir()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Start(context.Background(), dir, 5)
			results <- err
		}()
	}

	var ok, already int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRecording):
			already++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if ok != 1 || already != 1 {
		t.Errorf("Expected one success and one ErrAlreadyRecording, got %d/%d", ok, already)
	}

	waitForFrames(t, c)
	if _, err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestController_StopBeforeStart(t *testing.T) {
	c := newTestController(&fakeBackend{format: monoS16}, nil)
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown with no session should succeed, got %v", err)
	}
}

func TestController_DurationCapAutoStops(t *testing.T) {
	backend := &fakeBackend{format: monoS16, stream: true}
	events := newRecordingSink()
	c := newTestController(backend, events)

	res, err := c.Start(context.Background(), t.TempDir(), 1)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var ended Ended
	select {
	case ended = <-events.ended:
	case <-time.After(10 * time.Second):
		t.Fatal("Session did not auto-stop at the duration cap")
	}
	if ended.Reason != ReasonDurationCap {
		t.Errorf("Expected duration cap, got %s (%v)", ended.Reason, ended.Err)
	}
	if !ended.Summary.Capped || ended.Summary.Frames != 50 {
		t.Errorf("Expected 50 capped frames, got %+v", ended.Summary)
	}

	status := c.Status()
	if status.IsRecording {
		t.Error("Expected not recording after duration cap")
	}
	if status.OutputPath != res.OutputPath {
		t.Errorf("Expected last path %s, got %s", res.OutputPath, status.OutputPath)
	}

	info, err := pcmfile.Inspect(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.DataSize > 48000*2 || !info.Consistent() {
		t.Errorf("Expected at most one second of audio, got %+v", info)
	}

	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording after auto-stop, got %v", err)
	}
	if n := backend.lastDevice().closes(); n != 1 {
		t.Errorf("Expected device closed once, got %d", n)
	}

	// a new session can start afterwards
	if _, err := c.Start(context.Background(), t.TempDir(), 5); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	waitForFrames(t, c)
	if _, err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestController_DeviceFaultAutoStops(t *testing.T) {
	backend := &fakeBackend{format: monoS16, stream: true}
	events := newRecordingSink()
	c := newTestController(backend, events)

	if _, err := c.Start(context.Background(), t.TempDir(), 30); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	backend.lastDevice().faults <- audio.ErrDeviceStopped

	select {
	case e := <-events.ended:
		if e.Reason != ReasonDeviceFault || !errors.Is(e.Err, audio.ErrDeviceStopped) {
			t.Errorf("Unexpected end event: %+v", e)
		}
		info, err := pcmfile.Inspect(e.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !info.Consistent() {
			t.Errorf("Expected finalized file after fault, got %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not stop after device fault")
	}

	if c.Status().IsRecording {
		t.Error("Expected not recording after device fault")
	}
}

func TestController_WriteErrorAutoStops(t *testing.T) {
	backend := &fakeBackend{format: monoS16, stream: true}
	events := newRecordingSink()
	c := NewController(backend, Options{
		FinalizeTimeout: 5 * time.Second,
		PollInterval:    10 * time.Millisecond,
		Events:          events,
		CreateWriter: func(path string, sampleRate, channels int, maxFrames int64) (pcmfile.FrameWriter, error) {
			w, err := pcmfile.Create(path, sampleRate, channels, maxFrames)
			if err != nil {
				return nil, err
			}
			return &failingWriter{FrameWriter: w, failAfter: 5}, nil
		},
	})

	res, err := c.Start(context.Background(), t.TempDir(), 30)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case e := <-events.ended:
		if e.Reason != ReasonWriteError || !errors.Is(e.Err, errDiskFull) {
			t.Errorf("Expected write error end event, got %s (%v)", e.Reason, e.Err)
		}
		if e.SessionID != res.SessionID {
			t.Errorf("Expected session %s, got %s", res.SessionID, e.SessionID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not stop after a write error")
	}

	if c.Status().IsRecording {
		t.Error("Expected not recording after write error")
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording after write error, got %v", err)
	}
	if n := backend.lastDevice().closes(); n != 1 {
		t.Errorf("Expected device closed once, got %d", n)
	}

	info, err := pcmfile.Inspect(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Consistent() || info.DataSize != 5*960*2 {
		t.Errorf("Expected 5 finalized frames, got %+v", info)
	}
}

func TestController_StopFinalizeTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	backend := &fakeBackend{format: monoS16, stream: true, closeBlock: block}
	events := newRecordingSink()
	c := NewController(backend, Options{
		FinalizeTimeout: 100 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		Events:          events,
	})

	if _, err := c.Start(context.Background(), t.TempDir(), 30); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForFrames(t, c)

	start := time.Now()
	_, err := c.Stop(context.Background())
	if !errors.Is(err, ErrFinalizeTimeout) {
		t.Errorf("Expected ErrFinalizeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop blocked on a hung device for %v", elapsed)
	}

	select {
	case e := <-events.ended:
		if !errors.Is(e.Err, ErrFinalizeTimeout) {
			t.Errorf("Expected timeout in end event, got %v", e.Err)
		}
	case <-time.After(time.Second):
		t.Error("Expected end event")
	}

	if c.Status().IsRecording {
		t.Error("Expected not recording after finalize timeout")
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestController_StopContextExpires(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	backend := &fakeBackend{format: monoS16, stream: true, closeBlock: block}
	c := newTestController(backend, nil)

	if _, err := c.Start(context.Background(), t.TempDir(), 30); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForFrames(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if errors.Is(err, ErrIO) || errors.Is(err, ErrFinalizeTimeout) {
		t.Errorf("Expected the caller's context error alone, got %v", err)
	}
	if c.Status().IsRecording {
		t.Error("Expected not recording after abandoned stop")
	}
}

func TestController_StartErrors(t *testing.T) {
	t.Run("no device", func(t *testing.T) {
		c := newTestController(&fakeBackend{openErr: audio.ErrNoInputDevice}, nil)
		if _, err := c.Start(context.Background(), t.TempDir(), 5); !errors.Is(err, ErrNoInputDevice) {
			t.Errorf("Expected ErrNoInputDevice, got %v", err)
		}
		if c.Status().IsRecording {
			t.Error("Expected no session")
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		backend := &fakeBackend{format: audio.Format{Sample: 0, Channels: 2, SampleRate: 44100}}
		c := newTestController(backend, nil)
		if _, err := c.Start(context.Background(), t.TempDir(), 5); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("directory not creatable", func(t *testing.T) {
		parent := t.TempDir()
		blocker := filepath.Join(parent, "file")
		if err := os.WriteFile(blocker, nil, 0644); err != nil {
			t.Fatal(err)
		}
		c := newTestController(&fakeBackend{format: monoS16}, nil)
		if _, err := c.Start(context.Background(), filepath.Join(blocker, "rec"), 5); !errors.Is(err, ErrIO) {
			t.Errorf("Expected ErrIO, got %v", err)
		}
	})

	t.Run("capture start fails", func(t *testing.T) {
		dir := t.TempDir()
		backend := &fakeBackend{format: monoS16, startErr: errors.New("device busy")}
		c := newTestController(backend, nil)
		if _, err := c.Start(context.Background(), dir, 5); err == nil {
			t.Fatal("Expected start error")
		}
		if c.Status().IsRecording {
			t.Error("Failed start must not leave a session")
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("Expected partial file to be removed, found %d entries", len(entries))
		}
		// the controller is usable again
		backend.startErr = nil
		if _, err := c.Start(context.Background(), dir, 5); err != nil {
			t.Fatalf("Start after failure: %v", err)
		}
		c.Stop(context.Background())
	})
}

func TestController_ImmediateStopTooSmall(t *testing.T) {
	c := NewController(&fakeBackend{format: monoS16}, Options{
		PollInterval: 10 * time.Millisecond,
		MinFileSize:  1000,
	})

	if _, err := c.Start(context.Background(), t.TempDir(), 5); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrFileTooSmall) {
		t.Errorf("Expected ErrFileTooSmall, got %v", err)
	}
}

func TestController_LockFailure(t *testing.T) {
	c := newTestController(&fakeBackend{format: monoS16}, nil)

	c.lock <- struct{}{} // hold the state lock
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Stop(ctx); !errors.Is(err, ErrLockFailure) {
		t.Errorf("Expected ErrLockFailure, got %v", err)
	}
	if _, err := c.Start(ctx, t.TempDir(), 5); !errors.Is(err, ErrLockFailure) {
		t.Errorf("Expected ErrLockFailure, got %v", err)
	}

	status := c.Status()
	if !status.Stale || status.IsRecording {
		t.Errorf("Expected stale idle snapshot, got %+v", status)
	}
	<-c.lock
}

func TestController_FileNaming(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	c := NewController(&fakeBackend{format: monoS16}, Options{Now: func() time.Time { return fixed }})
	dir := t.TempDir()

	first := c.nextPath(dir)
	if filepath.Base(first) != "voice_1700000000.wav" {
		t.Errorf("Unexpected name %s", first)
	}
	if err := os.WriteFile(first, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if second := c.nextPath(dir); filepath.Base(second) != "voice_1700000000_1.wav" {
		t.Errorf("Expected suffixed name, got %s", second)
	}
}
