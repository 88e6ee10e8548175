package audio_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/wakeword/pkg/audio"
)

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingBuffer_TryExtractInsufficient(t *testing.T) {
	rb := audio.NewRingBuffer(0)
	rb.Append(ramp(0, 3199))

	if _, ok := rb.TryExtract(3200); ok {
		t.Fatal("extracted a chunk from 3199 samples")
	}
	if got := rb.Len(); got != 3199 {
		t.Errorf("Len = %d, want 3199 (buffer must be untouched)", got)
	}
}

func TestRingBuffer_ExactChunk(t *testing.T) {
	rb := audio.NewRingBuffer(0)
	rb.Append(ramp(0, 3200))

	c, ok := rb.TryExtract(3200)
	if !ok {
		t.Fatal("no chunk from exactly 3200 samples")
	}
	if c.Len() != 3200 || c.Start != 0 {
		t.Errorf("chunk len=%d start=%d", c.Len(), c.Start)
	}
	if rb.Len() != 0 {
		t.Errorf("Len = %d, want 0", rb.Len())
	}
}

func TestRingBuffer_FIFOAcrossAppends(t *testing.T) {
	rb := audio.NewRingBuffer(16)
	// Three uneven appends totalling 10 samples.
	rb.Append(ramp(0, 4))
	rb.Append(ramp(4, 1))
	rb.Append(ramp(5, 5))

	var got []float32
	var starts []int64
	for {
		c, ok := rb.TryExtract(3)
		if !ok {
			break
		}
		got = append(got, c.Samples...)
		starts = append(starts, c.Start)
	}
	if len(got) != 9 {
		t.Fatalf("extracted %d samples, want 9", len(got))
	}
	for i, v := range got {
		if v != float32(i) {
			t.Fatalf("sample %d = %v, want %v", i, v, float32(i))
		}
	}
	if want := []int64{0, 3, 6}; starts[0] != want[0] || starts[1] != want[1] || starts[2] != want[2] {
		t.Errorf("starts = %v, want %v", starts, want)
	}
	if rb.Len() != 1 {
		t.Errorf("remaining = %d, want 1", rb.Len())
	}
	if rb.Consumed() != 9 {
		t.Errorf("Consumed = %d, want 9", rb.Consumed())
	}
}

func TestRingBuffer_CompactionPreservesOrder(t *testing.T) {
	rb := audio.NewRingBuffer(0)
	next := 0
	want := 0
	for range 200 {
		rb.Append(ramp(next, 7))
		next += 7
		for {
			c, ok := rb.TryExtract(5)
			if !ok {
				break
			}
			for _, v := range c.Samples {
				if v != float32(want) {
					t.Fatalf("got %v, want %v", v, float32(want))
				}
				want++
			}
		}
	}
	if rb.Len() != next-want {
		t.Errorf("Len = %d, want %d", rb.Len(), next-want)
	}
}

func TestRingBuffer_ChunkIsIndependentCopy(t *testing.T) {
	rb := audio.NewRingBuffer(0)
	rb.Append(ramp(0, 4))
	c, _ := rb.TryExtract(2)
	rb.Append(ramp(100, 4))
	if c.Samples[0] != 0 || c.Samples[1] != 1 {
		t.Errorf("extracted chunk was mutated: %v", c.Samples)
	}
}

func TestRingBuffer_NonPositiveSize(t *testing.T) {
	rb := audio.NewRingBuffer(0)
	rb.Append(ramp(0, 4))
	if _, ok := rb.TryExtract(0); ok {
		t.Error("TryExtract(0) returned a chunk")
	}
}

func TestRingBuffer_ConcurrentProducerConsumer(t *testing.T) {
	const (
		blocks    = 500
		blockSize = 320
		chunk     = 3200
	)
	rb := audio.NewRingBuffer(chunk)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := range blocks {
			rb.Append(ramp(b*blockSize, blockSize))
		}
	}()

	want := 0
	total := blocks * blockSize
	for want < total {
		c, ok := rb.TryExtract(chunk)
		if !ok {
			continue
		}
		for _, v := range c.Samples {
			if v != float32(want) {
				t.Fatalf("sample out of order: got %v, want %d", v, want)
			}
			want++
		}
	}
	wg.Wait()
}
