package pipeline

import "time"

const (
	// TargetSampleRate is the canonical output rate.
	TargetSampleRate = 48000
	// TargetChannels is the canonical output channel count.
	TargetChannels = 1

	FrameDuration = 20 * time.Millisecond
	// FrameSize is the number of mono samples in one frame at TargetSampleRate.
	FrameSize = TargetSampleRate * int(FrameDuration/time.Millisecond) / 1000
)

type Kind int

const (
	KindData Kind = iota
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message travels from the normalizer to the encoder. Samples is only set for
// KindData and is owned by the receiver once sent.
type Message struct {
	Kind    Kind
	Samples []int16
}

func Data(samples []int16) Message {
	return Message{Kind: KindData, Samples: samples}
}

func Stop() Message {
	return Message{Kind: KindStop}
}
