package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wakeword/internal/pipeline"
)

var _ pipeline.Sink = (*Store)(nil)

const (
	// DefaultQueueSize is the number of events buffered ahead of the writer.
	DefaultQueueSize = 256

	writeTimeout = 5 * time.Second
)

// Option configures a [Store].
type Option func(*Store)

// WithQueueSize sets the capacity of the write queue. Values below 1 are
// ignored.
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is an event sink backed by a PostgreSQL connection pool. Publish is
// non-blocking: when the queue is full the event is dropped and counted.
// All methods are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	closed bool
	queue  chan pipeline.Event
	done   chan struct{}

	dropped atomic.Int64
	written atomic.Int64
}

// NewStore connects to dsn, runs [Migrate] and starts the background writer.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return newStore(pool, opts...), nil
}

func newStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:      pool,
		log:       slog.Default(),
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.queue = make(chan pipeline.Event, s.queueSize)
	go s.run()
	return s
}

// Publish implements [pipeline.Sink].
func (s *Store) Publish(_ context.Context, ev pipeline.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.log.Warn("postgres store: queue full, event dropped", "kind", ev.Kind, "run_id", ev.RunID)
	}
}

func (s *Store) run() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.insert(ctx, ev)
		cancel()
		if err != nil {
			s.log.Error("postgres store: write event", "kind", ev.Kind, "run_id", ev.RunID, "err", err)
			continue
		}
		s.written.Add(1)
	}
}

func (s *Store) insert(ctx context.Context, ev pipeline.Event) error {
	const q = `
		INSERT INTO wake_events (run_id, kind, at, offset_ms, keyword, transcript, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		ev.RunID, string(ev.Kind), at, ev.OffsetMs, ev.Keyword, ev.Transcript, ev.Score,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events of run, newest first. An empty run
// matches every run.
func (s *Store) Recent(ctx context.Context, run string, limit int) ([]pipeline.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT run_id, kind, at, offset_ms, keyword, transcript, score
		FROM   wake_events
		WHERE  ($1 = '' OR run_id = $1)
		ORDER  BY at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, run, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pipeline.Event, error) {
		var (
			ev   pipeline.Event
			kind string
		)
		err := row.Scan(&ev.RunID, &kind, &ev.At, &ev.OffsetMs, &ev.Keyword, &ev.Transcript, &ev.Score)
		ev.Kind = pipeline.EventKind(kind)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return events, nil
}

// Ping checks database connectivity. It is suitable as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Dropped returns the number of events discarded because the queue was full.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Written returns the number of events persisted so far.
func (s *Store) Written() int64 { return s.written.Load() }

// Close stops accepting events, waits for queued events to be written and
// releases the pool. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.pool.Close()
}
