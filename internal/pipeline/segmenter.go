package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/wakeword/internal/observe"
	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

// Segmenter runs the voice activity model over every chunk and applies the
// returned boundary markers to the shared [SpeechState].
//
// A start marker (EndMs == -1) sets Speaking, any other marker sets Silent.
// Markers are applied in the order the model returned them; a marker that
// matches the current state publishes nothing.
type Segmenter struct {
	session vad.SessionHandle
	state   *SpeechState
	sink    Sink
	metrics *observe.Metrics
	logger  *slog.Logger
	runID   string
}

// NewSegmenter returns a Segmenter that drives state from session's markers
// and publishes transitions to sink.
func NewSegmenter(session vad.SessionHandle, state *SpeechState, sink Sink, opts ...Option) *Segmenter {
	o := applyOptions(opts)
	return &Segmenter{
		session: session,
		state:   state,
		sink:    sink,
		metrics: o.metrics,
		logger:  o.logger,
		runID:   o.runID,
	}
}

// OnChunk evaluates one chunk. The chunk is owned by the caller; no lock is
// held during inference.
func (s *Segmenter) OnChunk(ctx context.Context, chunk audio.Chunk) error {
	return s.detect(ctx, chunk.Samples, false)
}

// Flush tells the model the stream has ended so that it can close an open
// speech segment.
func (s *Segmenter) Flush(ctx context.Context) error {
	return s.detect(ctx, nil, true)
}

func (s *Segmenter) detect(ctx context.Context, samples []float32, isFinal bool) error {
	start := time.Now()
	markers, err := s.session.Detect(samples, isFinal)
	s.metrics.VADDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "vad", "detect")
		return fmt.Errorf("pipeline: vad detect: %w", err)
	}
	for _, m := range markers {
		s.apply(ctx, m)
	}
	return nil
}

func (s *Segmenter) apply(ctx context.Context, m vad.Segment) {
	speaking := m.IsStart()
	if !s.state.Set(speaking) {
		s.logger.Debug("duplicate speech marker ignored", "marker", m.String())
		return
	}

	kind, edge := EventSpeechEnd, "end"
	if speaking {
		kind, edge = EventSpeechStart, "start"
	}
	s.metrics.RecordSpeechTransition(ctx, edge)
	s.sink.Publish(ctx, Event{
		Kind:     kind,
		RunID:    s.runID,
		At:       time.Now(),
		OffsetMs: m.BoundaryMs(),
	})
}
