// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script the markers returned for each chunk and inspect the
// chunks that were submitted.
//
// Example:
//
//	sess := &mock.Session{Script: [][]vad.Segment{
//	    {vad.Start(0)},
//	    nil,
//	    {vad.End(0, 600)},
//	}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// DetectCall records a single invocation of Session.Detect.
type DetectCall struct {
	// Chunk is a copy of the samples passed to Detect.
	Chunk   []float32
	IsFinal bool
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script holds the markers returned by successive Detect calls. Once it
	// is exhausted Detect returns no markers.
	Script [][]vad.Segment

	// DetectFunc, if set, replaces Script and is called with the zero-based
	// call index.
	DetectFunc func(call int, chunk []float32) ([]vad.Segment, error)

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	DetectCalls    []DetectCall
	ResetCallCount int
	CloseCallCount int
}

// Detect records the call and returns the next scripted markers.
func (s *Session) Detect(chunk []float32, isFinal bool) ([]vad.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.DetectCalls)
	s.DetectCalls = append(s.DetectCalls, DetectCall{Chunk: append([]float32(nil), chunk...), IsFinal: isFinal})
	if s.DetectErr != nil {
		return nil, s.DetectErr
	}
	if s.DetectFunc != nil {
		return s.DetectFunc(call, chunk)
	}
	if call < len(s.Script) {
		return s.Script[call], nil
	}
	return nil, nil
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns the number of Detect calls so far. Thread-safe.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.DetectCalls)
}

// Closed returns the number of Close calls so far. Thread-safe.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ vad.SessionHandle = (*Session)(nil)
