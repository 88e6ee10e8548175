package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies what an [Event] reports.
type EventKind string

const (
	// EventSpeechStart is published when the segmenter enters Speaking.
	EventSpeechStart EventKind = "speech_start"

	// EventSpeechEnd is published when the segmenter returns to Silent.
	EventSpeechEnd EventKind = "speech_end"

	// EventWake is published for every accepted keyword result.
	EventWake EventKind = "wake"
)

// Event is one observable pipeline occurrence.
type Event struct {
	Kind EventKind `json:"kind"`

	// RunID identifies the pipeline run that produced the event.
	RunID string `json:"run_id"`

	// At is the wall-clock time the event was raised.
	At time.Time `json:"at"`

	// OffsetMs is the stream position of the event in milliseconds: the
	// detector's boundary for speech events, the end of the evaluated window
	// for wake events.
	OffsetMs int64 `json:"offset_ms"`

	// Keyword is the detected phrase. Wake events only.
	Keyword string `json:"keyword,omitempty"`

	// Transcript is the backend's recognised text, when it has one.
	Transcript string `json:"transcript,omitempty"`

	// Score is the keyword backend's confidence. Wake events only.
	Score float64 `json:"score,omitempty"`
}

// Sink receives pipeline events. Publish is called from the processing
// goroutine and must return quickly; sinks that do I/O queue internally.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements [Sink].
func (s LogSink) Publish(ctx context.Context, ev Event) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	switch ev.Kind {
	case EventSpeechStart:
		log.DebugContext(ctx, "speech start", "run_id", ev.RunID, "offset_ms", ev.OffsetMs)
	case EventSpeechEnd:
		log.DebugContext(ctx, "speech end", "run_id", ev.RunID, "offset_ms", ev.OffsetMs)
	case EventWake:
		log.InfoContext(ctx, "wake word detected",
			"run_id", ev.RunID,
			"keyword", ev.Keyword,
			"score", ev.Score,
			"transcript", ev.Transcript,
			"offset_ms", ev.OffsetMs,
		)
	default:
		log.InfoContext(ctx, "pipeline event", "kind", ev.Kind, "run_id", ev.RunID)
	}
}

// MultiSink fans events out to every sink in order.
type MultiSink []Sink

// Publish implements [Sink].
func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

// Recorder is a Sink that keeps every event in memory. It is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements [Sink].
func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
