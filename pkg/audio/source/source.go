// Package source provides the audio capture backends that feed the wake word
// pipeline.
//
// Every [Source] delivers a continuous stream of headerless mono 16 kHz
// signed 16-bit little-endian PCM through its io.Reader side. The pipeline
// starts the source from its capture goroutine, polls [Source.Running] for
// liveness, and reads fixed-size blocks from its processing goroutine.
package source

import (
	"context"
	"errors"
	"io"
)

// SampleRate is the only rate a Source delivers.
const SampleRate = 16000

var (
	// ErrNotStarted is returned by Read before Start succeeded.
	ErrNotStarted = errors.New("source: not started")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("source: already started")

	// ErrStopped is returned by Start once Stop has run. A source that is
	// stopped while its launch is in flight never comes up afterwards.
	ErrStopped = errors.New("source: stopped")
)

// Source is a live PCM stream.
//
// Implementations must allow Read to run concurrently with Running and Stop.
// Stop must unblock a pending Read, which then returns io.EOF or an error.
type Source interface {
	io.Reader

	// Name identifies the backend in logs.
	Name() string

	// Start launches the capture. It returns once audio is flowing or the
	// launch failed. ctx bounds the launch only.
	Start(ctx context.Context) error

	// Running reports whether the capture is alive.
	Running() bool

	// Stop terminates the capture. It is idempotent.
	Stop() error
}
