package audio

import (
	"encoding/binary"
	"math"
)

// DecodeMono converts interleaved native samples into mono S16 and appends the
// result to dst. Each channel is first converted to S16, then the group is
// averaged with truncation toward zero. A trailing partial group is ignored.
func DecodeMono(dst []int16, raw []byte, f Format) []int16 {
	groupSize := f.BytesPerFrame()
	if groupSize == 0 {
		return dst
	}
	groups := len(raw) / groupSize
	width := f.Sample.BytesPerSample()
	channels := int32(f.Channels)

	for g := 0; g < groups; g++ {
		group := raw[g*groupSize : (g+1)*groupSize]
		var sum int32
		for c := 0; c < f.Channels; c++ {
			sample := group[c*width : (c+1)*width]
			switch f.Sample {
			case SampleS16:
				sum += int32(int16(binary.LittleEndian.Uint16(sample)))
			case SampleF32:
				sum += int32(FloatToS16(math.Float32frombits(binary.LittleEndian.Uint32(sample))))
			}
		}
		dst = append(dst, int16(sum/channels))
	}
	return dst
}

// FloatToS16 clamps v to [-1, 1] and scales by 32767.
func FloatToS16(v float32) int16 {
	if v != v {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * math.MaxInt16)
}
