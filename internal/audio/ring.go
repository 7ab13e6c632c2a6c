package audio

import (
	"math"
	"sync"
	"time"
)

// RingBuffer keeps the most recent samples of an unbounded mono stream.
// Samples are addressed by absolute index: the first sample ever appended is 0.
// Only indices in [WriteAbs()-Cap(), WriteAbs()) can be read back; older ones
// have been overwritten.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []float32
	writeAbs int64
}

// NewRingBuffer allocates a ring holding capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// RingCapacity is the number of samples needed to keep keep worth of audio at rate.
func RingCapacity(keep time.Duration, rate int) int {
	return int(math.Ceil(keep.Seconds() * float64(rate)))
}

func (r *RingBuffer) Cap() int { return len(r.buf) }

// WriteAbs returns the absolute index of the next sample to be written.
func (r *RingBuffer) WriteAbs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeAbs
}

// Append never fails: once the ring is full the oldest samples are dropped.
func (r *RingBuffer) Append(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := int64(len(r.buf))
	if int64(len(samples)) > c {
		// only the tail survives anyway
		skip := int64(len(samples)) - c
		r.writeAbs += skip
		samples = samples[skip:]
	}

	for len(samples) > 0 {
		off := int(r.writeAbs % c)
		n := copy(r.buf[off:], samples)
		samples = samples[n:]
		r.writeAbs += int64(n)
	}
}

// ReadRange copies samples [startAbs, endAbs) after clamping the range to what
// the ring still holds. An empty or inverted range yields an empty slice.
func (r *RingBuffer) ReadRange(startAbs, endAbs int64) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := int64(len(r.buf))
	lo := max(startAbs, r.writeAbs-c, 0)
	hi := min(endAbs, r.writeAbs)
	if hi <= lo {
		return []float32{}
	}

	out := make([]float32, hi-lo)
	off := int(lo % c)
	n := copy(out, r.buf[off:])
	if n < len(out) {
		copy(out[n:], r.buf)
	}
	return out
}

// Latest returns up to n of the most recently written samples.
func (r *RingBuffer) Latest(n int) []float32 {
	end := r.WriteAbs()
	return r.ReadRange(end-int64(n), end)
}
