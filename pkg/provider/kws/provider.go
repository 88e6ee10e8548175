// Package kws defines the Engine interface for keyword spotting backends.
//
// A KWS session receives a window of recent speech (several concatenated
// chunks) and decides whether it contains one of the configured keyword
// phrases. The session is the backend's opaque streaming cache; the caller
// creates one per stream and never inspects it.
//
// Backends in the sub-packages either run a dedicated keyword model or, like
// the whisper and openai backends, transcribe the window and match the text
// against the keyword list with a [Matcher].
package kws

import (
	"context"
	"errors"
)

// Rejected is the Result.Text a session returns when the window holds no
// keyword.
const Rejected = "rejected"

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("kws: session closed")

// Result is the outcome of one window evaluation.
type Result struct {
	// Text is the detected keyword, or [Rejected]. Every other value,
	// the empty string included, counts as a detection.
	Text string

	// Transcript is the raw recognised text when the backend produces one.
	Transcript string

	// Score is the backend's confidence in [0, 1]; 0 when not available.
	Score float64
}

// Accepted reports whether r is a detection: any Text other than [Rejected],
// including the empty string. Backends that found nothing must return
// [Reject].
func (r Result) Accepted() bool { return r.Text != Rejected }

// Reject returns a rejected result carrying the transcript for logging.
func Reject(transcript string) Result {
	return Result{Text: Rejected, Transcript: transcript}
}

// Config holds the parameters for a KWS session.
type Config struct {
	// SampleRate of the samples passed to Detect.
	SampleRate int

	// StrideMs is the streaming stride hint, fixed for the session lifetime.
	StrideMs int

	// Keywords lists the phrases the session accepts.
	Keywords []string
}

// SessionHandle represents an active KWS session for one stream.
type SessionHandle interface {
	// Detect evaluates window, the concatenation of the current keyword
	// window's chunks in order.
	Detect(ctx context.Context, window []float32) (Result, error)

	// Reset clears accumulated state without closing the session.
	Reset()

	// Close releases resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for KWS sessions.
type Engine interface {
	// NewSession creates a session for cfg. Errors are fatal to the caller.
	NewSession(cfg Config) (SessionHandle, error)
}
