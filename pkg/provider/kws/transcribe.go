package kws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Transcriber turns a window of normalised mono samples into text. prompt
// carries the keyword list as a recognition hint; backends that cannot use
// it ignore it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, prompt string) (string, error)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, samples []float32, sampleRate int, prompt string) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, samples []float32, sampleRate int, prompt string) (string, error) {
	return f(ctx, samples, sampleRate, prompt)
}

// TranscribingEngine is an [Engine] that spots keywords by transcribing each
// window and matching the text with a [Matcher].
type TranscribingEngine struct {
	name        string
	transcriber Transcriber
	matcher     *Matcher
}

// NewTranscribingEngine returns an engine that uses t for recognition. A nil
// matcher selects [NewMatcher] defaults. name prefixes error messages.
func NewTranscribingEngine(name string, t Transcriber, m *Matcher) *TranscribingEngine {
	if m == nil {
		m = NewMatcher()
	}
	return &TranscribingEngine{name: name, transcriber: t, matcher: m}
}

var _ Engine = (*TranscribingEngine)(nil)

// Close releases the transcriber when it holds resources (a loaded model).
func (e *TranscribingEngine) Close() error {
	if c, ok := e.transcriber.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewSession implements [Engine].
func (e *TranscribingEngine) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%s kws: invalid sample rate %d", e.name, cfg.SampleRate)
	}
	var keywords []string
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("%s kws: no keywords configured", e.name)
	}
	return &transcribingSession{
		engine:     e,
		sampleRate: cfg.SampleRate,
		keywords:   keywords,
		prompt:     strings.Join(keywords, ", "),
	}, nil
}

type transcribingSession struct {
	engine     *TranscribingEngine
	sampleRate int
	keywords   []string
	prompt     string

	mu     sync.Mutex
	closed bool
}

func (s *transcribingSession) Detect(ctx context.Context, window []float32) (Result, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Result{}, ErrClosed
	}
	if len(window) == 0 {
		return Reject(""), nil
	}

	text, err := s.engine.transcriber.Transcribe(ctx, window, s.sampleRate, s.prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%s kws: transcribe: %w", s.engine.name, err)
	}
	text = strings.TrimSpace(text)

	kw, score, ok := s.engine.matcher.Match(text, s.keywords)
	if !ok {
		return Reject(text), nil
	}
	return Result{Text: kw, Transcript: text, Score: score}, nil
}

// Reset is a no-op: every window is transcribed independently.
func (s *transcribingSession) Reset() {}

func (s *transcribingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
