// Package postgres persists pipeline events into PostgreSQL.
//
// Events are queued by [Store.Publish] and written by a single background
// writer so that the processing goroutine never waits on the database.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	p, err := pipeline.New(cfg, src, vadEngine, kwsEngine, pipeline.WithSink(store))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlWakeEvents = `
CREATE TABLE IF NOT EXISTS wake_events (
    id          BIGSERIAL         PRIMARY KEY,
    run_id      TEXT              NOT NULL,
    kind        TEXT              NOT NULL,
    at          TIMESTAMPTZ       NOT NULL DEFAULT now(),
    offset_ms   BIGINT            NOT NULL DEFAULT 0,
    keyword     TEXT              NOT NULL DEFAULT '',
    transcript  TEXT              NOT NULL DEFAULT '',
    score       DOUBLE PRECISION  NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_wake_events_run_id
    ON wake_events (run_id, at);

CREATE INDEX IF NOT EXISTS idx_wake_events_kind
    ON wake_events (kind);
`

// Migrate creates the event table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlWakeEvents); err != nil {
		return fmt.Errorf("postgres migrate: wake_events: %w", err)
	}
	return nil
}
