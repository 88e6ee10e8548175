package pipeline

import "github.com/MrWong99/wakeword/pkg/audio"

// Window is the bounded FIFO of recent speech chunks evaluated by the keyword
// model. It is a fixed-capacity ring and is owned by the processing
// goroutine; it is not safe for concurrent use.
type Window struct {
	buf   []audio.Chunk
	head  int
	count int
}

// NewWindow returns an empty window holding at most capacity chunks. A
// capacity below 1 is raised to 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]audio.Chunk, capacity)}
}

// Push appends c at the tail. When the window is full the head (oldest)
// chunk is evicted first and returned with evicted == true.
func (w *Window) Push(c audio.Chunk) (dropped audio.Chunk, evicted bool) {
	if w.count == len(w.buf) {
		dropped = w.buf[w.head]
		w.buf[w.head] = audio.Chunk{}
		w.head = (w.head + 1) % len(w.buf)
		w.count--
		evicted = true
	}
	w.buf[(w.head+w.count)%len(w.buf)] = c
	w.count++
	return dropped, evicted
}

// Len returns the number of chunks held.
func (w *Window) Len() int { return w.count }

// Cap returns the capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Clear drops every chunk.
func (w *Window) Clear() {
	clear(w.buf)
	w.head, w.count = 0, 0
}

// Chunks returns the held chunks oldest first.
func (w *Window) Chunks() []audio.Chunk {
	out := make([]audio.Chunk, w.count)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Samples concatenates the held chunks oldest first into one new slice.
func (w *Window) Samples() []float32 {
	n := 0
	for i := range w.count {
		n += w.buf[(w.head+i)%len(w.buf)].Len()
	}
	out := make([]float32, 0, n)
	for i := range w.count {
		out = append(out, w.buf[(w.head+i)%len(w.buf)].Samples...)
	}
	return out
}

// End returns the stream index just past the newest chunk, or 0 when empty.
func (w *Window) End() int64 {
	if w.count == 0 {
		return 0
	}
	last := w.buf[(w.head+w.count-1)%len(w.buf)]
	return last.Start + int64(last.Len())
}
