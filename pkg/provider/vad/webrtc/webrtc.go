// Package webrtc provides a VAD engine backed by libfvad, the standalone
// build of the WebRTC voice activity detector, through
// github.com/josharian/fvad.
//
// libfvad classifies 10, 20 or 30 ms frames of 16-bit PCM. Each chunk is
// split into frames and the per-frame decisions are smoothed into speech
// segments with a [vad.Tracker].
package webrtc

import (
	"fmt"
	"math"
	"sync"

	"github.com/josharian/fvad"

	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

const (
	defaultFrameMs      = 30
	defaultStartFrames  = 3
	defaultMinSilenceMs = 600
)

// Option is a functional option for [New].
type Option func(*Engine)

// WithFrameMs sets the libfvad frame length: 10, 20 or 30.
func WithFrameMs(ms int) Option {
	return func(e *Engine) { e.frameMs = ms }
}

// WithStartFrames sets how many consecutive voiced frames open a segment.
func WithStartFrames(n int) Option {
	return func(e *Engine) { e.startFrames = n }
}

// Engine is the libfvad [vad.Engine].
type Engine struct {
	frameMs     int
	startFrames int
}

// New returns a libfvad engine.
func New(opts ...Option) *Engine {
	e := &Engine{frameMs: defaultFrameMs, startFrames: defaultStartFrames}
	for _, o := range opts {
		o(e)
	}
	return e
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine]. cfg.Threshold selects the libfvad
// aggressiveness mode (0 = quality ... 3 = very aggressive) and is rounded
// to the nearest integer.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	switch e.frameMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc vad: frame length must be 10, 20 or 30 ms, got %d", e.frameMs)
	}
	mode := int(math.Round(cfg.Threshold))
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc vad: mode %d outside 0-3", mode)
	}

	det, err := newDetector(cfg.SampleRate, mode)
	if err != nil {
		return nil, err
	}

	minSilence := cfg.MinSilenceMs
	if minSilence <= 0 {
		minSilence = defaultMinSilenceMs
	}
	frameSamples := cfg.SampleRate * e.frameMs / 1000
	return &session{
		det:    det,
		rate:   cfg.SampleRate,
		mode:   mode,
		frame:  make([]int16, frameSamples),
		framer: vad.Framer{Size: frameSamples},
		tracker: vad.Tracker{
			FrameMs:        e.frameMs,
			StartFrames:    e.startFrames,
			HangoverFrames: max(minSilence/e.frameMs, 1),
			PadMs:          cfg.SpeechPadMs,
		},
	}, nil
}

type session struct {
	mu      sync.Mutex
	det     *fvad.Detector
	rate    int
	mode    int
	frame   []int16
	framer  vad.Framer
	tracker vad.Tracker
}

func (s *session) Detect(chunk []float32, isFinal bool) ([]vad.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return nil, vad.ErrClosed
	}

	var out []vad.Segment
	err := s.framer.Frames(chunk, func(frame []float32) error {
		for i, v := range frame {
			s.frame[i] = toInt16(v)
		}
		voiced, err := s.det.Process(s.frame)
		if err != nil {
			return fmt.Errorf("webrtc vad: process frame: %w", err)
		}
		if seg, ok := s.tracker.Observe(voiced); ok {
			out = append(out, seg)
		}
		return nil
	})
	if err != nil {
		return out, err
	}
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
	// Replace the detector to drop libfvad's internal history.
	if s.det != nil {
		if det, err := newDetector(s.rate, s.mode); err == nil {
			s.det.Close()
			s.det = det
		}
	}
	s.tracker.Reset()
	s.framer.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det != nil {
		s.det.Close()
		s.det = nil
	}
	return nil
}

func newDetector(rate, mode int) (*fvad.Detector, error) {
	det := fvad.NewDetector()
	if err := det.SetSampleRate(rate); err != nil {
		det.Close()
		return nil, fmt.Errorf("webrtc vad: sample rate %d: %w", rate, err)
	}
	if err := det.SetMode(mode); err != nil {
		det.Close()
		return nil, fmt.Errorf("webrtc vad: mode %d: %w", mode, err)
	}
	return det, nil
}

func toInt16(v float32) int16 {
	x := math.Round(float64(v) * 32768)
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}
