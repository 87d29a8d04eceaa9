package pcmfile

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/voicecapture/internal/pipeline"
)

const (
	HeaderSize = 44
	BitDepth   = 16

	riffSizeOffset = 4
	dataSizeOffset = 40

	wavFormatPCM = 1
)

var (
	ErrFrameCap   = errors.New("maximum duration reached")
	ErrFinalized  = errors.New("file already finalized")
	ErrFrameSize  = errors.New("frame larger than frame size")
	ErrFileCreate = errors.New("cannot create output file")
	ErrFileWrite  = errors.New("cannot write output file")
)

// MaxFrames is the number of 20 ms frames allowed for the given duration.
func MaxFrames(maxDurationSeconds int) int64 {
	if maxDurationSeconds <= 0 {
		return 0
	}
	ms := int64(maxDurationSeconds) * 1000
	frameMs := pipeline.FrameDuration.Milliseconds()
	return (ms + frameMs - 1) / frameMs
}

// FrameWriter is the sink the encoder appends frames to. *Writer is the
// file-backed implementation.
type FrameWriter interface {
	Path() string
	WriteFrame(samples []int16) error
	Finalize() error
	Frames() int64
	DataBytes() int64
	Full() bool
}

// Writer appends 16-bit PCM frames to a WAV file. The header is written with
// zeroed size fields on Create and patched once by Finalize.
type Writer struct {
	path      string
	file      *os.File
	enc       *wav.Encoder
	buf       *audio.IntBuffer
	channels  int
	maxFrames int64

	// read concurrently by status queries
	frames    atomic.Int64
	dataBytes atomic.Int64

	finalizeOnce sync.Once
	finalizeErr  error
}

// Create opens path and writes the 44-byte header. maxFrames <= 0 means no cap.
func Create(path string, sampleRate, channels int, maxFrames int64) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileCreate, path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, BitDepth, channels, wavFormatPCM)
	w := &Writer{
		path:      path,
		file:      f,
		enc:       enc,
		channels:  channels,
		maxFrames: maxFrames,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: BitDepth,
		},
	}

	// The encoder emits its header lazily on the first write.
	if err := enc.Write(w.buf); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w %s: %w", ErrFileCreate, path, err)
	}
	var zero [4]byte
	for _, off := range []int64{riffSizeOffset, dataSizeOffset} {
		if _, err := f.WriteAt(zero[:], off); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("%w %s: %w", ErrFileCreate, path, err)
		}
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int64 { return w.frames.Load() }

// DataBytes returns the size of the PCM payload written so far.
func (w *Writer) DataBytes() int64 { return w.dataBytes.Load() }

// Full reports whether the frame cap has been reached.
func (w *Writer) Full() bool {
	return w.maxFrames > 0 && w.frames.Load() >= w.maxFrames
}

// WriteFrame appends one frame. Shorter input is zero-padded to a full frame.
func (w *Writer) WriteFrame(samples []int16) error {
	if w.file == nil {
		return ErrFinalized
	}
	if w.Full() {
		return ErrFrameCap
	}
	frameLen := pipeline.FrameSize * w.channels
	if len(samples) > frameLen {
		return fmt.Errorf("%w: %d > %d", ErrFrameSize, len(samples), frameLen)
	}

	if cap(w.buf.Data) < frameLen {
		w.buf.Data = make([]int, frameLen)
	}
	w.buf.Data = w.buf.Data[:frameLen]
	for i, s := range samples {
		w.buf.Data[i] = int(s)
	}
	for i := len(samples); i < frameLen; i++ {
		w.buf.Data[i] = 0
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("%w %s: %w", ErrFileWrite, w.path, err)
	}
	w.frames.Add(1)
	w.dataBytes.Add(int64(frameLen * BitDepth / 8))
	return nil
}

// Finalize patches the RIFF and data sizes and closes the file. Only the first
// call does any work; later calls return the first result.
func (w *Writer) Finalize() error {
	w.finalizeOnce.Do(func() {
		encErr := w.enc.Close()
		closeErr := w.file.Close()
		w.file = nil
		if err := errors.Join(encErr, closeErr); err != nil {
			w.finalizeErr = fmt.Errorf("%w %s: %w", ErrFileWrite, w.path, err)
		}
	})
	return w.finalizeErr
}
