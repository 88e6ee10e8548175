// Package app wires the wake-word pipeline, its event sinks and the HTTP
// surface into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the pipeline and serves HTTP until either ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithEventStore,
// WithSinks, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wakeword/internal/config"
	"github.com/MrWong99/wakeword/internal/observe"
	"github.com/MrWong99/wakeword/internal/pipeline"
	"github.com/MrWong99/wakeword/internal/sink/hub"
	"github.com/MrWong99/wakeword/internal/sink/postgres"
	"github.com/MrWong99/wakeword/pkg/audio/source"
	"github.com/MrWong99/wakeword/pkg/provider/kws"
	"github.com/MrWong99/wakeword/pkg/provider/vad"
)

// serverShutdownTimeout bounds the HTTP server drain once Run ends.
const serverShutdownTimeout = 5 * time.Second

// errPipelineFinished ends the errgroup when the stream runs out normally.
var errPipelineFinished = errors.New("app: pipeline finished")

// Providers holds the three collaborators of a pipeline run. All are
// required. Populated by main.go via the config registry.
type Providers struct {
	Source source.Source
	VAD    vad.Engine
	KWS    kws.Engine
}

// EventStore is a persistent event sink.
type EventStore interface {
	pipeline.Sink
	Ping(ctx context.Context) error
	Close()
}

// recentLister is implemented by stores that can replay persisted events.
type recentLister interface {
	Recent(ctx context.Context, run string, limit int) ([]pipeline.Event, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	metrics        *observe.Metrics
	metricsHandler http.Handler
	store          EventStore
	hub            *hub.Hub
	extraSinks     []pipeline.Sink

	pipe   *pipeline.Pipeline
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metric instruments and the handler served on
// /metrics. A nil handler leaves /metrics unregistered.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// WithEventStore injects an event store instead of connecting to
// events.postgres_dsn.
func WithEventStore(s EventStore) Option {
	return func(a *App) { a.store = s }
}

// WithSinks adds sinks that receive every pipeline event.
func WithSinks(sinks ...pipeline.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, sinks...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New connects the event store, creates the model sessions and builds the
// HTTP handler. Model initialisation failure is returned and not retried.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil || providers.VAD == nil || providers.KWS == nil {
		return nil, errors.New("app: source, vad and kws providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Event store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init event store: %w", err)
	}

	// ── 2. WebSocket hub ─────────────────────────────────────────────────
	if cfg.Events.WebSocket {
		a.hub = hub.New(
			hub.WithOriginPatterns(cfg.Events.OriginPatterns...),
			hub.WithLogger(a.log),
		)
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	sinks := pipeline.MultiSink{pipeline.LogSink{Logger: a.log}}
	if a.store != nil {
		sinks = append(sinks, a.store)
	}
	if a.hub != nil {
		sinks = append(sinks, a.hub)
	}
	sinks = append(sinks, a.extraSinks...)

	pipe, err := pipeline.New(cfg.PipelineConfig(), providers.Source, providers.VAD, providers.KWS,
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithSink(sinks),
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipe = pipe

	// ── 4. Closers, in shutdown order ────────────────────────────────────
	// The hub goes first: hijacked WebSocket connections are not drained by
	// http.Server.Shutdown.
	if a.hub != nil {
		a.closers = append(a.closers, func() error { a.hub.Close(); return nil })
	}
	if a.store != nil {
		a.closers = append(a.closers, func() error { a.store.Close(); return nil })
	}
	for _, p := range []any{providers.KWS, providers.VAD} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" && addr != "-" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// initStore connects to PostgreSQL when a DSN is configured and no store was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil || a.cfg.Events.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Events.PostgresDSN,
		postgres.WithQueueSize(a.cfg.Events.QueueSize),
		postgres.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.store = store
	a.log.Info("event store connected", "backend", "postgres")
	return nil
}

// closeAll releases what New acquired before a failure.
func (a *App) closeAll() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// Pipeline returns the pipeline run owned by the app.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline and the HTTP server and blocks until ctx is
// cancelled, the stream ends, or either fails.
//
// Run returns nil when the audio stream ended normally, the pipeline error
// when processing failed, and ctx.Err() when cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.pipe.Start(ctx); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}
	a.log.Info("listening",
		"run_id", a.pipe.RunID(),
		"source", a.providers.Source.Name(),
		"keywords", len(a.cfg.KeywordList()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-a.pipe.Done():
			if err := a.pipe.Err(); err != nil {
				return fmt.Errorf("app: pipeline: %w", err)
			}
			return errPipelineFinished
		}
	})

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("http server listening", "addr", a.server.Addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errPipelineFinished):
		a.log.Info("audio stream ended", "run_id", a.pipe.RunID())
		return nil
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Stop the pipeline first so no event reaches a closed sink.
		a.pipe.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
