// Package mock provides a scripted source.Source for pipeline tests.
//
// Source serves a fixed PCM payload. By default the stream ends with io.EOF
// once the payload is drained; with HoldOpen it behaves like a live device
// and blocks until Stop.
//
// Example:
//
//	src := &mock.Source{PCM: pcm, HoldOpen: true}
//	src.Exit() // simulate the capture process dying
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/wakeword/pkg/audio/source"
)

var _ source.Source = (*Source)(nil)

// Source is a mock implementation of source.Source.
type Source struct {
	// PCM is the s16le payload returned by Read.
	PCM []byte

	// HoldOpen keeps Read blocked after PCM is drained until Stop or Exit.
	HoldOpen bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartBlock, if non-nil, makes Start wait until it is closed or the
	// context is done.
	StartBlock chan struct{}

	once    sync.Once
	mu      sync.Mutex
	r       *bytes.Reader
	started bool
	exited  bool
	done    chan struct{}

	// --- Call records ---

	StartCalls int
	StopCalls  int
	BytesRead  int
}

func (s *Source) init() {
	s.once.Do(func() { s.done = make(chan struct{}) })
}

// Name returns "mock".
func (s *Source) Name() string { return "mock" }

// Start records the call and honours StartBlock and StartErr.
func (s *Source) Start(ctx context.Context) error {
	s.init()
	s.mu.Lock()
	s.StartCalls++
	block := s.StartBlock
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.StartErr != nil {
		return s.StartErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return source.ErrAlreadyStarted
	}
	s.started = true
	s.r = bytes.NewReader(s.PCM)
	return nil
}

// Read serves PCM, then io.EOF or, with HoldOpen, blocks until Stop/Exit.
func (s *Source) Read(b []byte) (int, error) {
	s.init()
	s.mu.Lock()
	r := s.r
	s.mu.Unlock()
	if r == nil {
		return 0, source.ErrNotStarted
	}

	n, err := r.Read(b)
	if n > 0 {
		s.mu.Lock()
		s.BytesRead += n
		s.mu.Unlock()
		return n, nil
	}
	if err == io.EOF && s.HoldOpen {
		<-s.done
	}
	return 0, io.EOF
}

// Running reports whether Start succeeded and neither Stop nor Exit ran.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.exited
}

// Exit simulates the capture terminating on its own.
func (s *Source) Exit() {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		s.exited = true
		close(s.done)
	}
}

// Stop records the call and unblocks a pending Read.
func (s *Source) Stop() error {
	s.init()
	s.mu.Lock()
	s.StopCalls++
	s.mu.Unlock()
	s.Exit()
	return nil
}

// Stops returns the number of Stop calls. Thread-safe.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}

// Starts returns the number of Start calls. Thread-safe.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls
}
