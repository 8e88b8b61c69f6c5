package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *countingSweeper) SweepExpired(context.Context) (int64, error) {
	s.calls.Add(1)
	return 2, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceRemovesExpiredRows(t *testing.T) {
	store := cache.NewMemoryStore()
	now := time.Now()
	c := cache.New(store, &config.CacheConfig{Enabled: true}, testLogger(), cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := c.Put(ctx, cache.Key{Service: "old"}, []byte("x"), -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, cache.Key{Service: "fresh"}, []byte("x"), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	w := NewSweepWorker(c, &config.SweepConfig{Interval: time.Hour}, testLogger())
	if n := w.RunOnce(ctx); n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Fatalf("rows = %d, want 1", store.Len())
	}
}

func TestRunOnceReportsZeroOnError(t *testing.T) {
	s := &countingSweeper{err: errors.New("store down")}
	w := NewSweepWorker(s, &config.SweepConfig{Interval: time.Hour}, testLogger())
	if n := w.RunOnce(context.Background()); n != 0 {
		t.Fatalf("removed = %d, want 0", n)
	}
}

func TestStartStop(t *testing.T) {
	s := &countingSweeper{}
	w := NewSweepWorker(s, &config.SweepConfig{Interval: 5 * time.Millisecond}, testLogger())
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// A second Start is a no-op.
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.calls.Load() == 0 {
		t.Fatalf("worker never swept")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
