// Package energy provides a pure-Go VAD engine based on RMS energy with
// hysteresis. It needs no model files and is the default backend; it works
// well for close-talking microphones in quiet rooms and poorly in noise.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

const (
	defaultThreshold    = 0.015
	defaultReleaseRatio = 0.55
	defaultFrameMs      = 20
	defaultStartFrames  = 3
	defaultMinSilenceMs = 600
)

// Option is a functional option for [New].
type Option func(*Engine)

// WithFrameMs sets the analysis frame length.
func WithFrameMs(ms int) Option {
	return func(e *Engine) { e.frameMs = ms }
}

// WithStartFrames sets how many consecutive loud frames open a segment.
func WithStartFrames(n int) Option {
	return func(e *Engine) { e.startFrames = n }
}

// WithReleaseRatio sets the release threshold as a fraction of the speech
// threshold. Once speaking, a frame only counts as silence below
// threshold*ratio.
func WithReleaseRatio(r float64) Option {
	return func(e *Engine) { e.releaseRatio = r }
}

// Engine is the energy [vad.Engine].
type Engine struct {
	frameMs      int
	startFrames  int
	releaseRatio float64
}

// New returns an energy engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		frameMs:      defaultFrameMs,
		startFrames:  defaultStartFrames,
		releaseRatio: defaultReleaseRatio,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine]. Zero Threshold and MinSilenceMs take
// the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d", cfg.SampleRate)
	}
	if e.frameMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame length %d ms", e.frameMs)
	}
	if e.releaseRatio <= 0 || e.releaseRatio > 1 {
		return nil, fmt.Errorf("energy vad: release ratio %.2f outside (0, 1]", e.releaseRatio)
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("energy vad: threshold %.3f outside (0, 1)", threshold)
	}
	minSilence := cfg.MinSilenceMs
	if minSilence <= 0 {
		minSilence = defaultMinSilenceMs
	}

	return &session{
		speechThr:  threshold,
		releaseThr: threshold * e.releaseRatio,
		framer:     vad.Framer{Size: cfg.SampleRate * e.frameMs / 1000},
		tracker: vad.Tracker{
			FrameMs:        e.frameMs,
			StartFrames:    e.startFrames,
			HangoverFrames: max(minSilence/e.frameMs, 1),
			PadMs:          cfg.SpeechPadMs,
		},
	}, nil
}

type session struct {
	mu         sync.Mutex
	speechThr  float64
	releaseThr float64
	framer     vad.Framer
	tracker    vad.Tracker
	closed     bool
}

func (s *session) Detect(chunk []float32, isFinal bool) ([]vad.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, vad.ErrClosed
	}

	var out []vad.Segment
	_ = s.framer.Frames(chunk, func(frame []float32) error {
		level := audio.RMS(frame)
		voiced := level >= s.speechThr
		if s.tracker.InSpeech() {
			voiced = level >= s.releaseThr
		}
		if seg, ok := s.tracker.Observe(voiced); ok {
			out = append(out, seg)
		}
		return nil
	})
	if isFinal {
		if seg, ok := s.tracker.Flush(); ok {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Reset()
	s.framer.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
