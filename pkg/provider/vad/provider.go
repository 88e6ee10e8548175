// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a speech detector (energy threshold, Silero, WebRTC
// libfvad, ...) and surfaces it as a stateful, per-stream session. The
// session is the opaque streaming cache of the model: the caller creates one
// per audio stream, passes every chunk through it, and never looks inside.
//
// Detection is reported as speech boundary markers rather than per-frame
// probabilities. A chunk may yield zero, one, or several markers, and the
// caller applies them in the returned order.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is driven by one goroutine.
package vad

import "errors"

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the samples passed to
	// Detect. The pipeline always uses 16000.
	SampleRate int

	// ChunkSizeMs is the duration of each chunk passed to Detect. It is a
	// streaming hint fixed for the lifetime of the session; backends with a
	// smaller native frame size split each chunk internally.
	ChunkSizeMs int

	// Threshold is the score above which audio is classified as speech, in
	// the backend's native scale (RMS level for energy, probability for
	// silero, aggressiveness mode 0-3 for webrtc).
	Threshold float64

	// MinSilenceMs is how long the score must stay below the release
	// threshold before an open speech segment is closed.
	MinSilenceMs int

	// SpeechPadMs extends reported segment boundaries outwards.
	SpeechPadMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// Detect analyses one chunk of normalised mono samples and returns the
	// speech boundaries it resolved, in stream order. isFinal tells the
	// backend no further audio follows so it may close an open segment.
	Detect(chunk []float32, isFinal bool) ([]Segment, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid or the model cannot be
	// loaded; callers treat this as fatal.
	NewSession(cfg Config) (SessionHandle, error)
}
