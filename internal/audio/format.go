package audio

import (
	"errors"
	"fmt"
)

var (
	ErrNoInputDevice     = errors.New("no audio input device found")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrDeviceStopped     = errors.New("audio device stopped unexpectedly")
)

// SampleFormat is the native sample representation reported by a device.
// Only the two formats below are accepted; anything else is rejected at open.
type SampleFormat int

const (
	SampleS16 SampleFormat = iota + 1
	SampleF32
)

func (f SampleFormat) String() string {
	switch f {
	case SampleS16:
		return "s16"
	case SampleF32:
		return "f32"
	}
	return "unknown"
}

// BytesPerSample returns the width of a single channel sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleS16:
		return 2
	case SampleF32:
		return 4
	}
	return 0
}

// Format describes a device's native stream.
type Format struct {
	Sample     SampleFormat `json:"sample_format"`
	Channels   int          `json:"channels"`
	SampleRate int          `json:"sample_rate"`
}

// BytesPerFrame is the size of one interleaved group holding a sample for every channel.
func (f Format) BytesPerFrame() int {
	return f.Sample.BytesPerSample() * f.Channels
}

func (f Format) Validate() error {
	if f.Sample != SampleS16 && f.Sample != SampleF32 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Sample)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dch/%dHz", f.Sample, f.Channels, f.SampleRate)
}
