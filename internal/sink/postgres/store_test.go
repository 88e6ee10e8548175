package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wakeword/internal/pipeline"
	"github.com/MrWong99/wakeword/internal/sink/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if WAKEWORD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("WAKEWORD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAKEWORD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a [postgres.Store] over an empty wake_events table.
func newTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS wake_events`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func waitWritten(t *testing.T, s *postgres.Store, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Written() < n {
		if time.Now().After(deadline) {
			t.Fatalf("written = %d, want %d", s.Written(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStore_PublishAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	store.Publish(ctx, pipeline.Event{Kind: pipeline.EventSpeechStart, RunID: "run-a", At: base, OffsetMs: 200})
	store.Publish(ctx, pipeline.Event{
		Kind: pipeline.EventWake, RunID: "run-a", At: base.Add(time.Second),
		OffsetMs: 1400, Keyword: "小云小云", Transcript: "小云小云", Score: 0.93,
	})
	store.Publish(ctx, pipeline.Event{Kind: pipeline.EventSpeechStart, RunID: "run-b", At: base})
	waitWritten(t, store, 3)

	events, err := store.Recent(ctx, "run-a", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Recent returned %d events, want 2", len(events))
	}
	wake := events[0]
	if wake.Kind != pipeline.EventWake || wake.Keyword != "小云小云" || wake.OffsetMs != 1400 {
		t.Errorf("newest event = %+v", wake)
	}
	if !wake.At.Equal(base.Add(time.Second)) {
		t.Errorf("At = %v, want %v", wake.At, base.Add(time.Second))
	}

	all, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent all returned %d events, want 3", len(all))
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_CloseDrainsQueueAndIgnoresLatePublish(t *testing.T) {
	store := newTestStore(t, postgres.WithQueueSize(16))
	ctx := context.Background()
	for range 5 {
		store.Publish(ctx, pipeline.Event{Kind: pipeline.EventSpeechEnd, RunID: "drain"})
	}
	store.Close()
	if store.Written() != 5 {
		t.Errorf("written after Close = %d, want 5", store.Written())
	}

	store.Publish(ctx, pipeline.Event{Kind: pipeline.EventWake, RunID: "drain"})
	store.Close()
}

func TestNewStore_InvalidDSN(t *testing.T) {
	if _, err := postgres.NewStore(context.Background(), "://not a dsn"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}
