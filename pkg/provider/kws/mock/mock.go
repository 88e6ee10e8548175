// Package mock provides test doubles for the kws package interfaces.
//
// Session returns scripted results per Detect call and records the window
// length of every call, which is what most pipeline tests assert on.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wakeword/pkg/provider/kws"
)

// Engine is a mock implementation of kws.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new default Session is
	// returned.
	Session kws.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every Config passed to NewSession.
	NewSessionCalls []kws.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg kws.Config) (kws.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ kws.Engine = (*Engine)(nil)

// Session is a mock implementation of kws.SessionHandle. Without a script
// every call is rejected.
type Session struct {
	mu sync.Mutex

	// Script holds the results returned by successive Detect calls. Once it
	// is exhausted Detect returns a rejection.
	Script []kws.Result

	// DetectFunc, if set, replaces Script.
	DetectFunc func(call int, window []float32) (kws.Result, error)

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// --- Call records ---

	// WindowLens holds len(window) for every Detect call in order.
	WindowLens     []int
	ResetCallCount int
	CloseCallCount int
}

// Detect records the call and returns the next scripted result.
func (s *Session) Detect(_ context.Context, window []float32) (kws.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.WindowLens)
	s.WindowLens = append(s.WindowLens, len(window))
	if s.DetectErr != nil {
		return kws.Result{}, s.DetectErr
	}
	if s.DetectFunc != nil {
		return s.DetectFunc(call, window)
	}
	if call < len(s.Script) {
		return s.Script[call], nil
	}
	return kws.Reject(""), nil
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Calls returns a copy of WindowLens. Thread-safe.
func (s *Session) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.WindowLens...)
}

// Closed returns the number of Close calls so far. Thread-safe.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ kws.SessionHandle = (*Session)(nil)
