package audio

import (
	"sync/atomic"
)

// Ring is a single-producer single-consumer byte ring. The producer side is
// safe to call from a driver callback: it never blocks and never allocates.
// A block that does not fit is dropped whole so the stream stays aligned to
// sample groups.
type Ring struct {
	buf  []byte
	mask uint64

	head atomic.Uint64 // next byte to read
	tail atomic.Uint64 // next byte to write

	dropped atomic.Uint64
	ready   chan struct{}
}

// NewRing allocates a ring holding at least size bytes.
func NewRing(size int) *Ring {
	capacity := 1
	for capacity < size {
		capacity <<= 1
	}
	return &Ring{
		buf:   make([]byte, capacity),
		mask:  uint64(capacity - 1),
		ready: make(chan struct{}, 1),
	}
}

// Write copies p into the ring. It returns len(p), or 0 when the block was dropped.
func (r *Ring) Write(p []byte) int {
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (tail - r.head.Load())
	if uint64(len(p)) > free {
		r.dropped.Add(1)
		return 0
	}

	off := tail & r.mask
	n := copy(r.buf[off:], p)
	copy(r.buf, p[n:])
	r.tail.Store(tail + uint64(len(p)))

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return len(p)
}

// Read moves up to len(p) buffered bytes into p.
func (r *Ring) Read(p []byte) int {
	head := r.head.Load()
	avail := r.tail.Load() - head
	n := uint64(len(p))
	if avail < n {
		n = avail
	}
	if n == 0 {
		return 0
	}

	off := head & r.mask
	c := copy(p[:n], r.buf[off:])
	copy(p[c:n], r.buf)
	r.head.Store(head + n)
	return int(n)
}

// Ready is signalled after writes. It is level-triggered at most once, so
// readers should drain until Read returns 0.
func (r *Ring) Ready() <-chan struct{} {
	return r.ready
}

func (r *Ring) Buffered() int {
	return int(r.tail.Load() - r.head.Load())
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped counts producer blocks rejected for lack of space.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
