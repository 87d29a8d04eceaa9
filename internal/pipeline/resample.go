package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/oov/audio/resampler"
)

// weightScale is the fixed-point precision of the interpolation weight.
const weightScale = 1024

// sincQuality is passed to the speex-derived resampler (0..10).
const sincQuality = 10

// Resampler converts a mono S16 stream from one rate to another. Process may
// keep input back until later samples arrive; Flush emits whatever remains.
type Resampler interface {
	Process(dst, src []int16) []int16
	Flush(dst []int16) []int16
}

// NewResampler builds the resampler named by kind ("linear" or "sinc").
func NewResampler(kind string, from, to int) (Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	switch strings.ToLower(kind) {
	case "", "linear":
		return NewLinearResampler(from, to), nil
	case "sinc":
		return NewSincResampler(from, to), nil
	default:
		return nil, fmt.Errorf("unknown resampler: %s", kind)
	}
}

// LinearResampler interpolates between neighbouring input samples. The source
// position of output k is k*from/to, kept as an exact integer index plus a
// remainder over to, so long recordings do not drift.
type LinearResampler struct {
	from, to int

	pending []int16
	idx     int
	rem     int
}

func NewLinearResampler(from, to int) *LinearResampler {
	g := gcd(from, to)
	return &LinearResampler{from: from / g, to: to / g}
}

func (r *LinearResampler) Process(dst, src []int16) []int16 {
	r.pending = append(r.pending, src...)
	dst = r.emit(dst, false)
	r.compact()
	return dst
}

// Flush emits the outputs whose source position lies inside the buffered
// input, holding the last sample where its right neighbour is missing.
func (r *LinearResampler) Flush(dst []int16) []int16 {
	dst = r.emit(dst, true)
	r.pending = r.pending[:0]
	r.idx, r.rem = 0, 0
	return dst
}

func (r *LinearResampler) emit(dst []int16, final bool) []int16 {
	n := len(r.pending)
	for r.idx < n {
		w := r.rem * weightScale / r.to
		s0 := int32(r.pending[r.idx])
		s1 := s0
		if w != 0 {
			if r.idx+1 < n {
				s1 = int32(r.pending[r.idx+1])
			} else if !final {
				break
			}
		}
		dst = append(dst, interpolate(s0, s1, int32(w)))

		r.rem += r.from
		r.idx += r.rem / r.to
		r.rem %= r.to
	}
	return dst
}

// compact drops input that no future output can reference.
func (r *LinearResampler) compact() {
	consumed := r.idx
	if consumed > len(r.pending) {
		consumed = len(r.pending)
	}
	if consumed == 0 {
		return
	}
	kept := copy(r.pending, r.pending[consumed:])
	r.pending = r.pending[:kept]
	r.idx -= consumed
}

// interpolate returns s0 + (s1-s0)*w/1024 rounded half away from zero.
func interpolate(s0, s1, w int32) int16 {
	num := s0*weightScale + (s1-s0)*w
	var v int32
	if num >= 0 {
		v = (num + weightScale/2) / weightScale
	} else {
		v = -((-num + weightScale/2) / weightScale)
	}
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// SincResampler wraps the windowed-sinc resampler from github.com/oov/audio.
// Its filter delays the output, so Flush pads with silence until the output
// length matches the input duration.
type SincResampler struct {
	from, to int
	r        *resampler.Resampler

	in, out []float32
	read    int64
	written int64
}

func NewSincResampler(from, to int) *SincResampler {
	return &SincResampler{
		from: from,
		to:   to,
		r:    resampler.New(1, from, to, sincQuality),
		out:  make([]float32, 4096),
	}
}

func (s *SincResampler) Process(dst, src []int16) []int16 {
	s.in = s.in[:0]
	for _, v := range src {
		s.in = append(s.in, float32(v)/math.MaxInt16)
	}
	s.read += int64(len(src))
	return s.run(dst, s.in, -1)
}

func (s *SincResampler) Flush(dst []int16) []int16 {
	expected := (s.read*int64(s.to) + int64(s.from) - 1) / int64(s.from)
	if s.written >= expected {
		return dst
	}
	silence := make([]float32, s.from/100+64)
	for attempts := 0; s.written < expected && attempts < 64; attempts++ {
		dst = s.run(dst, silence, expected)
	}
	return dst
}

// run pushes in through the filter and appends the converted output. A
// non-negative limit caps the running output count.
func (s *SincResampler) run(dst []int16, in []float32, limit int64) []int16 {
	for len(in) > 0 {
		read, written := s.r.ProcessFloat32(0, in, s.out)
		for _, v := range s.out[:written] {
			if limit >= 0 && s.written >= limit {
				return dst
			}
			dst = append(dst, floatToS16(v))
			s.written++
		}
		if read == 0 && written == 0 {
			break
		}
		in = in[read:]
	}
	return dst
}

func floatToS16(v float32) int16 {
	f := math.Round(float64(v) * math.MaxInt16)
	if f > math.MaxInt16 {
		return math.MaxInt16
	}
	if f < math.MinInt16 {
		return math.MinInt16
	}
	return int16(f)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
