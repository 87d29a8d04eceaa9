package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
)

// ErrEncoderGone is returned when the encoder stopped consuming before Stop
// was delivered, e.g. after reaching the duration cap.
var ErrEncoderGone = errors.New("encoder is no longer consuming frames")

const defaultPollInterval = 100 * time.Millisecond

// Source is the consumer side of the capture buffer.
type Source interface {
	Read(p []byte) int
	Ready() <-chan struct{}
}

type NormalizerConfig struct {
	Format       audio.Format
	Resampler    Resampler
	PollInterval time.Duration
	// ReadSize is the number of raw bytes pulled from the source per read.
	ReadSize int
	Logger   *slog.Logger
}

// Normalizer turns raw native-format capture data into 48 kHz mono frames.
type Normalizer struct {
	src    Source
	out    chan<- Message
	format audio.Format
	rs     Resampler
	poll   time.Duration
	logger *slog.Logger

	raw       []byte
	carry     int
	mono      []int16
	resampled []int16
	pending   []int16

	frames int64
}

func NewNormalizer(src Source, out chan<- Message, cfg NormalizerConfig) *Normalizer {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bpf := cfg.Format.BytesPerFrame()
	readSize := cfg.ReadSize
	if readSize <= 0 {
		// 20 ms of native audio
		readSize = cfg.Format.SampleRate / 50 * bpf
	}
	if bpf > 0 && readSize%bpf != 0 {
		readSize += bpf - readSize%bpf
	}
	if readSize < bpf {
		readSize = bpf
	}

	return &Normalizer{
		src:     src,
		out:     out,
		format:  cfg.Format,
		rs:      cfg.Resampler,
		poll:    poll,
		logger:  logger,
		raw:     make([]byte, readSize+bpf),
		pending: make([]int16, 0, FrameSize*2),
	}
}

// Run loops until stop is closed, the context ends or the encoder exits. On
// stop it drains the source, flushes the resampler, forwards the trailing
// partial frame and finally a Stop message.
func (n *Normalizer) Run(ctx context.Context, stop <-chan struct{}, encoderDone <-chan struct{}) error {
	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-encoderDone:
			n.logger.Debug("encoder finished, normalizer exiting", "frames", n.frames)
			return nil
		case <-stop:
			return n.finish(ctx, encoderDone)
		case <-n.src.Ready():
		case <-ticker.C:
		}

		if err := n.drain(ctx, encoderDone); err != nil {
			return ignoreEncoderGone(err)
		}
	}
}

func (n *Normalizer) finish(ctx context.Context, encoderDone <-chan struct{}) error {
	if err := n.drain(ctx, encoderDone); err != nil {
		return ignoreEncoderGone(err)
	}

	n.resampled = n.rs.Flush(n.resampled[:0])
	n.pending = append(n.pending, n.resampled...)
	if err := n.forwardFrames(ctx, encoderDone); err != nil {
		return ignoreEncoderGone(err)
	}

	if len(n.pending) > 0 {
		tail := make([]int16, len(n.pending))
		copy(tail, n.pending)
		n.pending = n.pending[:0]
		if err := n.send(ctx, encoderDone, Data(tail)); err != nil {
			return ignoreEncoderGone(err)
		}
	}

	n.logger.Debug("normalizer stopping", "frames", n.frames)
	return ignoreEncoderGone(n.send(ctx, encoderDone, Stop()))
}

// drain empties the source, forwarding every complete frame.
func (n *Normalizer) drain(ctx context.Context, encoderDone <-chan struct{}) error {
	bpf := n.format.BytesPerFrame()
	for {
		read := n.src.Read(n.raw[n.carry : len(n.raw)-bpf+n.carry])
		if read == 0 {
			return nil
		}
		total := n.carry + read
		aligned := total - total%bpf

		n.mono = audio.DecodeMono(n.mono[:0], n.raw[:aligned], n.format)
		n.carry = copy(n.raw, n.raw[aligned:total])

		n.resampled = n.rs.Process(n.resampled[:0], n.mono)
		n.pending = append(n.pending, n.resampled...)

		if err := n.forwardFrames(ctx, encoderDone); err != nil {
			return err
		}
	}
}

func (n *Normalizer) forwardFrames(ctx context.Context, encoderDone <-chan struct{}) error {
	for len(n.pending) >= FrameSize {
		frame := make([]int16, FrameSize)
		copy(frame, n.pending[:FrameSize])
		rest := copy(n.pending, n.pending[FrameSize:])
		n.pending = n.pending[:rest]

		if err := n.send(ctx, encoderDone, Data(frame)); err != nil {
			return err
		}
		n.frames++
	}
	return nil
}

// send blocks on the bounded frame queue, which is what keeps the normalizer
// in step with the encoder.
func (n *Normalizer) send(ctx context.Context, encoderDone <-chan struct{}, msg Message) error {
	select {
	case n.out <- msg:
		return nil
	case <-encoderDone:
		return ErrEncoderGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ignoreEncoderGone(err error) error {
	if errors.Is(err, ErrEncoderGone) {
		return nil
	}
	return err
}
