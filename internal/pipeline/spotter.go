package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wakeword/internal/observe"
	"github.com/MrWong99/wakeword/pkg/audio"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
)

// Spotter manages the keyword window during speech. Each chunk is pushed
// (evicting the oldest when full); once the window holds at least the
// minimum fill, the concatenated window is evaluated by the keyword model.
// An accepted result publishes a wake event and clears the window. A
// rejected result leaves it intact.
type Spotter struct {
	session    kws.SessionHandle
	window     *Window
	minChunks  int
	sampleRate int
	sink       Sink
	metrics    *observe.Metrics
	logger     *slog.Logger
	runID      string
}

// NewSpotter returns a Spotter evaluating window with session once it holds
// minChunks chunks.
func NewSpotter(session kws.SessionHandle, window *Window, minChunks, sampleRate int, sink Sink, opts ...Option) *Spotter {
	o := applyOptions(opts)
	if minChunks < 1 {
		minChunks = 1
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Spotter{
		session:    session,
		window:     window,
		minChunks:  minChunks,
		sampleRate: sampleRate,
		sink:       sink,
		metrics:    o.metrics,
		logger:     o.logger,
		runID:      o.runID,
	}
}

// Window returns the managed window.
func (s *Spotter) Window() *Window { return s.window }

// OnChunk pushes chunk and evaluates the window when it is full enough. It
// must only be called while speech is in progress. The returned bool
// reports whether a keyword was accepted.
func (s *Spotter) OnChunk(ctx context.Context, chunk audio.Chunk) (bool, error) {
	if _, evicted := s.window.Push(chunk); evicted {
		s.metrics.WindowEvictions.Add(ctx, 1)
	}
	if s.window.Len() < s.minChunks {
		return false, nil
	}
	return s.evaluate(ctx)
}

func (s *Spotter) evaluate(ctx context.Context) (bool, error) {
	ctx, span := observe.StartSpan(ctx, "kws.detect",
		trace.WithAttributes(attribute.Int("window.chunks", s.window.Len())),
	)
	defer span.End()

	samples := s.window.Samples()
	endMs := s.window.End() * 1000 / int64(s.sampleRate)

	start := time.Now()
	res, err := s.session.Detect(ctx, samples)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordKWSInvocation(ctx, "error", elapsed)
		s.metrics.RecordProviderError(ctx, "kws", "detect")
		return false, fmt.Errorf("pipeline: kws detect: %w", err)
	}

	if !res.Accepted() {
		s.metrics.RecordKWSInvocation(ctx, "rejected", elapsed)
		if res.Transcript != "" {
			observe.Logger(ctx, s.logger).Debug("keyword window rejected",
				"transcript", res.Transcript,
				"window_chunks", s.window.Len(),
			)
		}
		return false, nil
	}

	s.metrics.RecordKWSInvocation(ctx, "accepted", elapsed)
	s.metrics.RecordWake(ctx, res.Text)
	span.SetAttributes(attribute.String("keyword", res.Text))
	s.window.Clear()
	s.sink.Publish(ctx, Event{
		Kind:       EventWake,
		RunID:      s.runID,
		At:         time.Now(),
		OffsetMs:   endMs,
		Keyword:    res.Text,
		Transcript: res.Transcript,
		Score:      res.Score,
	})
	return true, nil
}
