package pcmfile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

const defaultReceiveTimeout = 100 * time.Millisecond

// Summary describes a finalized recording.
type Summary struct {
	Path      string        `json:"path"`
	Frames    int64         `json:"frames"`
	DataBytes int64         `json:"data_bytes"`
	Duration  time.Duration `json:"duration"`
	Capped    bool          `json:"capped"`
}

type EncoderConfig struct {
	// ReceiveTimeout bounds each wait on the inbound channel.
	ReceiveTimeout time.Duration
	Logger         *slog.Logger
}

// Encode consumes messages until Stop, channel close, the frame cap or context
// cancellation, then finalizes w. Data is re-framed to whole frames; a
// trailing partial frame is zero-padded unless the cap was hit. The file is
// finalized on every return path.
func Encode(ctx context.Context, w FrameWriter, in <-chan pipeline.Message, cfg EncoderConfig) (Summary, error) {
	timeout := cfg.ReceiveTimeout
	if timeout <= 0 {
		timeout = defaultReceiveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &encoder{w: w, logger: logger, pending: make([]int16, 0, pipeline.FrameSize*2)}
	err := e.loop(ctx, in, timeout)

	if finErr := w.Finalize(); finErr != nil {
		err = errors.Join(err, finErr)
	}

	summary := Summary{
		Path:      w.Path(),
		Frames:    w.Frames(),
		DataBytes: w.DataBytes(),
		Duration:  time.Duration(w.Frames()) * pipeline.FrameDuration,
		Capped:    w.Full(),
	}
	if err != nil {
		logger.Error("encoder stopped with error", "path", summary.Path, "frames", summary.Frames, "error", err)
	} else {
		logger.Debug("encoder finalized", "path", summary.Path, "frames", summary.Frames, "capped", summary.Capped)
	}
	return summary, err
}

type encoder struct {
	w       FrameWriter
	logger  *slog.Logger
	pending []int16
}

func (e *encoder) loop(ctx context.Context, in <-chan pipeline.Message, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)

		select {
		case msg, ok := <-in:
			if !ok {
				return e.flush()
			}
			switch msg.Kind {
			case pipeline.KindStop:
				return e.flush()
			case pipeline.KindData:
				if err := e.append(msg.Samples); err != nil {
					if errors.Is(err, ErrFrameCap) {
						e.logger.Info("maximum duration reached", "frames", e.w.Frames())
						return nil
					}
					return err
				}
			}
		case <-timer.C:
			if err := ctx.Err(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *encoder) append(samples []int16) error {
	e.pending = append(e.pending, samples...)
	for len(e.pending) >= pipeline.FrameSize {
		if err := e.w.WriteFrame(e.pending[:pipeline.FrameSize]); err != nil {
			return err
		}
		rest := copy(e.pending, e.pending[pipeline.FrameSize:])
		e.pending = e.pending[:rest]
		if e.w.Full() {
			return ErrFrameCap
		}
	}
	return nil
}

func (e *encoder) flush() error {
	if len(e.pending) == 0 || e.w.Full() {
		return nil
	}
	err := e.w.WriteFrame(e.pending)
	e.pending = e.pending[:0]
	return err
}
