package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/pcmfile"
	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

// activeSession holds everything that lives exactly as long as one recording.
type activeSession struct {
	id        string
	path      string
	startedAt time.Time
	logger    *slog.Logger

	device audio.Device
	ring   *audio.Ring
	writer pcmfile.FrameWriter

	cancel      context.CancelFunc
	stop        chan struct{} // control handle; closed to request Stop
	encoderDone chan struct{}
	done        chan struct{} // closed after both workers returned

	stopOnce    sync.Once
	releaseOnce sync.Once

	// written by the workers before done is closed
	summary pcmfile.Summary
	err     error
	encErr  error
}

func newActiveSession(id, path string, device audio.Device, ring *audio.Ring, writer pcmfile.FrameWriter, logger *slog.Logger) *activeSession {
	return &activeSession{
		id:          id,
		path:        path,
		logger:      logger,
		device:      device,
		ring:        ring,
		writer:      writer,
		stop:        make(chan struct{}),
		encoderDone: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// run spawns the normalizer and the encoder. done is the finalize
// acknowledgment: it closes once the file has been finalized.
func (a *activeSession) run(rs pipeline.Resampler, opts Options) {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	frames := make(chan pipeline.Message, opts.FrameQueue)
	normalizer := pipeline.NewNormalizer(a.ring, frames, pipeline.NormalizerConfig{
		Format:       a.device.Format(),
		Resampler:    rs,
		PollInterval: opts.PollInterval,
		Logger:       a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(a.encoderDone)
		summary, err := pcmfile.Encode(gctx, a.writer, frames, pcmfile.EncoderConfig{
			ReceiveTimeout: opts.PollInterval,
			Logger:         a.logger,
		})
		a.summary = summary
		a.encErr = err
		return err
	})
	g.Go(func() error {
		return normalizer.Run(gctx, a.stop, a.encoderDone)
	})

	go func() {
		a.err = g.Wait()
		cancel()
		close(a.done)
	}()
}

// releaseDevice closes the capture stream exactly once.
func (a *activeSession) releaseDevice() {
	a.releaseOnce.Do(func() {
		if err := a.device.Close(); err != nil {
			a.logger.Warn("Failed to release capture device", "device", a.device.Name(), "error", err)
		}
	})
}

func (a *activeSession) signalStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// shutdown stops capture first so the normalizer drains a closed stream.
func (a *activeSession) shutdown() {
	a.releaseDevice()
	a.signalStop()
}
