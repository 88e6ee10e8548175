// Package portaudio provides a [source.Source] that records from the default
// input device through PortAudio. It links libportaudio via cgo, so it lives
// apart from the pure-Go sources.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/audio/source"
)

// defaultFramesPerBuffer is 32 ms at 16 kHz.
const defaultFramesPerBuffer = 512

var _ source.Source = (*Source)(nil)

// Source records mono 16 kHz int16 audio from the default input device.
type Source struct {
	framesPerBuffer int

	// readMu serialises Read; Stop waits for it before closing the stream.
	readMu  sync.Mutex
	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	pending []byte

	running atomic.Bool
	stopped atomic.Bool
}

// New returns a source for the default input device. A framesPerBuffer of
// zero selects 512.
func New(framesPerBuffer int) *Source {
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultFramesPerBuffer
	}
	return &Source{framesPerBuffer: framesPerBuffer}
}

// Name returns "portaudio".
func (s *Source) Name() string { return "portaudio" }

// Start initialises PortAudio and opens the input stream. It returns
// [source.ErrStopped] once Stop has run.
func (s *Source) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return source.ErrStopped
	}
	if s.stream != nil {
		return source.ErrAlreadyStarted
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: init: %w", err)
	}
	buf := make([]int16, s.framesPerBuffer)
	stream, err := pa.OpenDefaultStream(1, 0, float64(source.SampleRate), len(buf), buf)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	s.stream = stream
	s.buf = buf
	s.running.Store(true)
	return nil
}

// Read returns captured PCM, blocking for the next device buffer when none
// is pending.
func (s *Source) Read(b []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.pending) == 0 {
		if s.stopped.Load() {
			return 0, io.EOF
		}
		s.mu.Lock()
		stream := s.stream
		s.mu.Unlock()
		if stream == nil {
			return 0, source.ErrNotStarted
		}
		// An overflow drops device frames but the buffer still holds audio.
		if err := stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
			s.running.Store(false)
			return 0, fmt.Errorf("portaudio: read: %w", err)
		}
		s.pending = audio.AppendInt16(s.pending[:0], s.buf)
	}

	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Running reports whether the stream is open and reading.
func (s *Source) Running() bool { return s.running.Load() }

// Stop stops and closes the stream and terminates PortAudio. A Read in
// progress finishes its current device buffer first. A Start still in
// flight is waited for and its stream closed.
func (s *Source) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.running.Store(false)

	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	return errors.Join(
		s.stream.Stop(),
		s.stream.Close(),
		pa.Terminate(),
	)
}
