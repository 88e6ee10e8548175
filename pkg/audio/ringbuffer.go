package audio

import "sync"

// RingBuffer is an unbounded FIFO of samples shared between the capture side
// (which appends converted blocks) and the chunking side (which removes
// fixed-size chunks). All methods are safe for concurrent use; the lock is
// only ever held for the copy itself.
//
// Storage is a slice with a read offset. Consumed space at the front is
// reclaimed lazily on Append once it makes up at least half the slice, so
// both operations are amortised O(len) in the number of samples moved.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []float32
	head     int
	consumed int64
}

// NewRingBuffer returns an empty buffer with room for capacity samples
// before the first reallocation.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]float32, 0, max(capacity, 0))}
}

// Append adds samples to the tail.
func (r *RingBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.head > 0 && r.head >= len(r.buf)/2 {
		n := copy(r.buf, r.buf[r.head:])
		r.buf = r.buf[:n]
		r.head = 0
	}
	r.buf = append(r.buf, samples...)
}

// TryExtract removes exactly the first n samples and returns them as a
// [Chunk]. When fewer than n samples are buffered it returns false and leaves
// the buffer untouched; it never blocks and never returns a partial chunk.
func (r *RingBuffer) TryExtract(n int) (Chunk, bool) {
	if n <= 0 {
		return Chunk{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf)-r.head < n {
		return Chunk{}, false
	}
	out := make([]float32, n)
	copy(out, r.buf[r.head:r.head+n])
	c := Chunk{Samples: out, Start: r.consumed}

	r.head += n
	r.consumed += int64(n)
	if r.head == len(r.buf) {
		r.buf = r.buf[:0]
		r.head = 0
	}
	return c, true
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.head
}

// Consumed returns the total number of samples extracted so far.
func (r *RingBuffer) Consumed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed
}
