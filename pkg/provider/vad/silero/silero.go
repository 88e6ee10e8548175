// Package silero provides a VAD engine backed by the Silero ONNX model via
// github.com/streamer45/silero-vad-go. The ONNX runtime shared library must
// be available at run time.
//
// The detector keeps its recurrent state across calls, so one session is one
// continuous stream. It reports segments in seconds; this package converts
// them to boundary markers in milliseconds.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

// windowSamples is the model's inference window at 16 kHz.
const windowSamples = 512

const (
	defaultThreshold    = 0.5
	defaultMinSilenceMs = 300
	defaultSpeechPadMs  = 30
)

// detector is the subset of *speech.Detector used by a session.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// Engine is the Silero [vad.Engine].
type Engine struct {
	modelPath string

	// newDetector is swapped in tests.
	newDetector func(cfg speech.DetectorConfig) (detector, error)
}

// New returns an engine that loads the model at modelPath for every session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero vad: model path is required")
	}
	return &Engine{
		modelPath: modelPath,
		newDetector: func(cfg speech.DetectorConfig) (detector, error) {
			return speech.NewDetector(cfg)
		},
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine]. Silero supports 8 and 16 kHz; the
// pipeline always uses 16 kHz.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 16000 && cfg.SampleRate != 8000 {
		return nil, fmt.Errorf("silero vad: unsupported sample rate %d", cfg.SampleRate)
	}
	dc := speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(cfg.Threshold),
		MinSilenceDurationMs: cfg.MinSilenceMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	}
	if dc.Threshold == 0 {
		dc.Threshold = defaultThreshold
	}
	if dc.MinSilenceDurationMs == 0 {
		dc.MinSilenceDurationMs = defaultMinSilenceMs
	}
	if dc.SpeechPadMs == 0 {
		dc.SpeechPadMs = defaultSpeechPadMs
	}

	det, err := e.newDetector(dc)
	if err != nil {
		return nil, fmt.Errorf("silero vad: load model %q: %w", e.modelPath, err)
	}
	return &session{det: det, sampleRate: cfg.SampleRate}, nil
}

type session struct {
	mu         sync.Mutex
	det        detector
	sampleRate int

	pending   []float32
	processed int64
	triggered bool
	segStart  int64
}

// Detect feeds whole inference windows to the model and carries the
// remainder. The library loop stops one window short of the buffer end, so
// each call passes k windows plus one sample.
func (s *session) Detect(chunk []float32, isFinal bool) ([]vad.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return nil, vad.ErrClosed
	}

	s.pending = append(s.pending, chunk...)
	var out []vad.Segment
	if k := (len(s.pending) - 1) / windowSamples; k > 0 {
		segs, err := s.det.Detect(s.pending[:k*windowSamples+1])
		if err != nil {
			return nil, fmt.Errorf("silero vad: detect: %w", err)
		}
		s.pending = append(s.pending[:0], s.pending[k*windowSamples:]...)
		s.processed += int64(k * windowSamples)
		out = s.markers(segs)
	}

	if isFinal && s.triggered {
		out = append(out, vad.End(s.segStart, s.ms(s.processed)))
		s.triggered = false
	}
	return out, nil
}

// markers converts library segments using the session's own open/closed
// state: a segment arriving while closed opens speech, and any segment with
// a non-zero end closes it.
func (s *session) markers(segs []speech.Segment) []vad.Segment {
	var out []vad.Segment
	for _, seg := range segs {
		if !s.triggered {
			s.segStart = int64(seg.SpeechStartAt * 1000)
			s.triggered = true
			out = append(out, vad.Start(s.segStart))
		}
		if seg.SpeechEndAt > 0 {
			out = append(out, vad.End(s.segStart, int64(seg.SpeechEndAt*1000)))
			s.triggered = false
		}
	}
	return out
}

func (s *session) ms(samples int64) int64 {
	return samples * 1000 / int64(s.sampleRate)
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det != nil {
		_ = s.det.Reset()
	}
	s.pending = s.pending[:0]
	s.processed = 0
	s.triggered = false
	s.segStart = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return nil
	}
	err := s.det.Destroy()
	s.det = nil
	if err != nil {
		return fmt.Errorf("silero vad: destroy: %w", err)
	}
	return nil
}
