package energy

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

const (
	sampleRate   = 16000
	chunkSamples = 3200 // 200 ms
)

func tone(n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}
	return out
}

func newSession(t *testing.T, cfg vad.Config, opts ...Option) vad.SessionHandle {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = sampleRate
	}
	s, err := New(opts...).NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_SpeechBoundaries(t *testing.T) {
	s := newSession(t, vad.Config{ChunkSizeMs: 200})

	pattern := []bool{false, false, true, true, true, false, false, false, false}
	markers := make(map[int][]vad.Segment)
	for i, loud := range pattern {
		amp := 0.0
		if loud {
			amp = 0.3
		}
		segs, err := s.Detect(tone(chunkSamples, amp), false)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if len(segs) > 0 {
			markers[i] = segs
		}
	}

	if len(markers) != 2 {
		t.Fatalf("markers = %v, want one start and one end", markers)
	}
	start := markers[2]
	if len(start) != 1 || !start[0].IsStart() || start[0].StartMs != 400 {
		t.Errorf("chunk 2 markers = %v, want start at 400 ms", start)
	}
	end := markers[7]
	if len(end) != 1 || end[0].IsStart() || end[0].EndMs != 1000 {
		t.Errorf("chunk 7 markers = %v, want end at 1000 ms", end)
	}
}

func TestSession_QuietSpeechBelowThreshold(t *testing.T) {
	s := newSession(t, vad.Config{Threshold: 0.2})
	for range 5 {
		segs, _ := s.Detect(tone(chunkSamples, 0.05), false)
		if len(segs) != 0 {
			t.Fatalf("quiet tone produced markers: %v", segs)
		}
	}
}

func TestSession_FinalClosesOpenSegment(t *testing.T) {
	s := newSession(t, vad.Config{})
	segs, _ := s.Detect(tone(chunkSamples, 0.3), false)
	if len(segs) != 1 || !segs[0].IsStart() {
		t.Fatalf("markers = %v, want start", segs)
	}
	segs, _ = s.Detect(tone(chunkSamples, 0.3), true)
	if len(segs) != 1 || segs[0].IsStart() || segs[0].EndMs != 400 {
		t.Errorf("final markers = %v, want end at 400 ms", segs)
	}
}

func TestSession_ResetForgetsOpenSegment(t *testing.T) {
	s := newSession(t, vad.Config{})
	_, _ = s.Detect(tone(chunkSamples, 0.3), false)
	s.Reset()
	segs, _ := s.Detect(tone(chunkSamples, 0), true)
	if len(segs) != 0 {
		t.Errorf("markers after reset = %v", segs)
	}
}

func TestSession_DetectAfterClose(t *testing.T) {
	s := newSession(t, vad.Config{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := s.Detect(tone(10, 0), false); !errors.Is(err, vad.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
		opts []Option
	}{
		{"zero sample rate", vad.Config{}, nil},
		{"threshold too high", vad.Config{SampleRate: sampleRate, Threshold: 1.5}, nil},
		{"bad release ratio", vad.Config{SampleRate: sampleRate}, []Option{WithReleaseRatio(2)}},
		{"bad frame", vad.Config{SampleRate: sampleRate}, []Option{WithFrameMs(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...).NewSession(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
