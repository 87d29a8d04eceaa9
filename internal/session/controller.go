package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

// Options controls session behaviour.
type Options struct {
	Resampler          string
	RingSeconds        float64
	Prefix             string
	MaxDurationSeconds int
	FinalizeTimeout    time.Duration
	PollInterval       time.Duration
	MinFileSize        int64
	FrameQueue         int

	Events EventSink
	Logger *slog.Logger
	// Now is used for file naming; tests override it.
	Now func() time.Time
	// CreateWriter opens the output file. Defaults to pcmfile.Create.
	CreateWriter func(path string, sampleRate, channels int, maxFrames int64) (pcmfile.FrameWriter, error)
}

// OptionsFromConfig maps the loaded configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Resampler:          cfg.Audio.Resampler,
		RingSeconds:        cfg.Audio.RingSeconds,
		Prefix:             cfg.Output.Prefix,
		MaxDurationSeconds: cfg.Output.MaxDurationSeconds,
		FinalizeTimeout:    cfg.Session.FinalizeTimeout,
		PollInterval:       cfg.Session.PollInterval,
		MinFileSize:        cfg.Session.MinFileSize,
		FrameQueue:         cfg.Session.FrameQueue,
	}
}

func (o *Options) setDefaults() {
	if o.RingSeconds <= 0 {
		o.RingSeconds = 2
	}
	if o.Prefix == "" {
		o.Prefix = "voice"
	}
	if o.MaxDurationSeconds <= 0 {
		o.MaxDurationSeconds = 300
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.MinFileSize <= 0 {
		o.MinFileSize = 100
	}
	if o.FrameQueue <= 0 {
		o.FrameQueue = 64
	}
	if o.Events == nil {
		o.Events = nopSink{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.CreateWriter == nil {
		o.CreateWriter = createFileWriter
	}
}

func createFileWriter(path string, sampleRate, channels int, maxFrames int64) (pcmfile.FrameWriter, error) {
	w, err := pcmfile.Create(path, sampleRate, channels, maxFrames)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Controller owns at most one recording session at a time. All state
// transitions happen under a single lock which is never held across device or
// file I/O.
type Controller struct {
	backend audio.AudioBackend
	opts    Options

	// lock is a one-slot semaphore so acquisition can honour a context.
	lock  chan struct{}
	state state

	snapshot atomic.Pointer[Status]
}

type state struct {
	recording bool
	starting  bool
	active    *activeSession
	lastPath  string
}

func NewController(backend audio.AudioBackend, opts Options) *Controller {
	opts.setDefaults()
	c := &Controller{
		backend: backend,
		opts:    opts,
		lock:    make(chan struct{}, 1),
	}
	c.snapshot.Store(&Status{})
	return c
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockFailure, ctx.Err())
	}
}

func (c *Controller) tryAcquire() bool {
	select {
	case c.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) release() {
	<-c.lock
}

// Start opens the input device and begins recording into outputDir.
// maxDurationSeconds <= 0 uses the configured limit.
func (c *Controller) Start(ctx context.Context, outputDir string, maxDurationSeconds int) (StartResult, error) {
	if err := c.acquire(ctx); err != nil {
		return StartResult{}, err
	}
	if c.state.recording || c.state.starting {
		c.release()
		return StartResult{}, ErrAlreadyRecording
	}
	c.state.starting = true
	c.release()

	committed := false
	defer func() {
		if !committed {
			c.acquire(context.Background())
			c.state.starting = false
			c.release()
		}
	}()

	if maxDurationSeconds <= 0 {
		maxDurationSeconds = c.opts.MaxDurationSeconds
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return StartResult{}, fmt.Errorf("%w: creating output directory %s: %w", ErrIO, outputDir, err)
	}
	path := c.nextPath(outputDir)

	device, err := c.backend.OpenDefault(ctx)
	if err != nil {
		return StartResult{}, err
	}
	format := device.Format()
	if err := format.Validate(); err != nil {
		device.Close()
		return StartResult{}, err
	}

	rs, err := pipeline.NewResampler(c.opts.Resampler, format.SampleRate, pipeline.TargetSampleRate)
	if err != nil {
		device.Close()
		return StartResult{}, err
	}

	writer, err := c.opts.CreateWriter(path, pipeline.TargetSampleRate, pipeline.TargetChannels, pcmfile.MaxFrames(maxDurationSeconds))
	if err != nil {
		device.Close()
		return StartResult{}, fmt.Errorf("%w: %w", ErrIO, err)
	}

	id := uuid.NewString()
	logger := c.opts.Logger.With("session", id)
	ringSize := int(c.opts.RingSeconds * float64(format.SampleRate*format.BytesPerFrame()))
	a := newActiveSession(id, path, device, audio.NewRing(ringSize), writer, logger)
	a.startedAt = c.opts.Now()
	a.run(rs, c.opts)

	if err := device.Start(a.ring); err != nil {
		a.shutdown()
		<-a.done
		os.Remove(path)
		logger.Error("Capture start failed", "device", device.Name(), "error", err)
		return StartResult{}, fmt.Errorf("starting capture on %s: %w", device.Name(), err)
	}

	c.acquire(context.Background())
	c.state.recording = true
	c.state.starting = false
	c.state.active = a
	c.state.lastPath = path
	status := c.statusLocked()
	c.release()
	committed = true

	go c.supervise(a)

	logger.Info("Recording started", "path", path, "device", device.Name(), "format", format.String(), "max_duration", maxDurationSeconds)
	c.opts.Events.SessionStarted(status)

	return StartResult{
		OutputPath: path,
		SampleRate: pipeline.TargetSampleRate,
		Channels:   pipeline.TargetChannels,
		SessionID:  id,
	}, nil
}

// Stop ends the active session, waits for the file to be finalized and
// returns its path.
func (c *Controller) Stop(ctx context.Context) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	if !c.state.recording {
		c.release()
		return "", ErrNotRecording
	}
	a := c.detachLocked()
	c.release()

	a.logger.Debug("Stopping recording")
	// a hung device must not outlive the finalize timeout
	go a.shutdown()

	if err := c.awaitFinalize(ctx, a); err != nil {
		c.opts.Events.SessionEnded(Ended{SessionID: a.id, Path: a.path, Reason: ReasonStopped, Err: err})
		return "", err
	}

	ended := Ended{SessionID: a.id, Path: a.path, Reason: ReasonStopped, Summary: a.summary, Err: a.err}
	if a.err != nil {
		err := fmt.Errorf("%w: %w", ErrIO, a.err)
		ended.Err = err
		c.opts.Events.SessionEnded(ended)
		return "", err
	}

	if err := c.verify(a.path); err != nil {
		ended.Err = err
		c.opts.Events.SessionEnded(ended)
		return "", err
	}

	a.logger.Info("Recording stopped", "path", a.path, "frames", a.summary.Frames, "duration", a.summary.Duration)
	c.opts.Events.SessionEnded(ended)
	return a.path, nil
}

// Status never fails. When the lock is busy it returns the last committed
// snapshot marked as stale.
func (c *Controller) Status() Status {
	if !c.tryAcquire() {
		s := *c.snapshot.Load()
		s.Stale = true
		return s
	}
	defer c.release()
	return c.statusLocked()
}

// Shutdown stops a running session, if any.
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.Stop(ctx)
	if errors.Is(err, ErrNotRecording) {
		return nil
	}
	return err
}

// statusLocked builds a status and refreshes the snapshot. Caller holds the lock.
func (c *Controller) statusLocked() Status {
	s := Status{OutputPath: c.state.lastPath}
	if a := c.state.active; c.state.recording && a != nil {
		s.IsRecording = true
		s.SessionID = a.id
		s.SampleRate = pipeline.TargetSampleRate
		s.Channels = pipeline.TargetChannels
		s.Device = a.device.Name()
		s.StartedAt = a.startedAt
		s.FramesWritten = a.writer.Frames()
		s.DroppedBlocks = a.ring.Dropped()
	}
	snap := s
	c.snapshot.Store(&snap)
	return s
}

// detachLocked flips the state to not-recording and hands back the session.
func (c *Controller) detachLocked() *activeSession {
	a := c.state.active
	c.state.recording = false
	c.state.active = nil
	c.statusLocked()
	return a
}

// awaitFinalize waits for the finalize acknowledgment. When the timeout or
// ctx expires first, the workers are cancelled and the cause is returned even
// if the encoder manages to finalize afterwards.
func (c *Controller) awaitFinalize(ctx context.Context, a *activeSession) error {
	timer := time.NewTimer(c.opts.FinalizeTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-a.done:
		return nil
	case <-timer.C:
		a.logger.Error("Recording did not finalize in time", "path", a.path, "timeout", c.opts.FinalizeTimeout)
		cause = fmt.Errorf("%w: %s", ErrFinalizeTimeout, a.path)
	case <-ctx.Done():
		a.logger.Warn("Stop abandoned before finalize", "path", a.path, "error", ctx.Err())
		cause = ctx.Err()
	}

	// the encoder still finalizes on cancellation
	a.cancel()
	select {
	case <-a.done:
	case <-time.After(c.opts.PollInterval * 2):
		a.logger.Error("Workers did not exit after cancel", "path", a.path)
	}
	return cause
}

func (c *Controller) verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if info.Size() < c.opts.MinFileSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrFileTooSmall, path, info.Size())
	}
	return nil
}

// nextPath returns <dir>/<prefix>_<unix>.wav, adding _N if that name is taken.
func (c *Controller) nextPath(dir string) string {
	base := fmt.Sprintf("%s_%d", c.opts.Prefix, c.opts.Now().Unix())
	path := filepath.Join(dir, base+".wav")
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.wav", base, n))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
