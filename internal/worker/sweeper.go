// Package worker runs background maintenance of the response cache.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tourney-sync/internal/config"
)

// ExpirySweeper deletes expired cache rows. *cache.Cache satisfies it.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SweepWorker periodically removes expired entries from the cache store
type SweepWorker struct {
	cache   ExpirySweeper
	config  *config.SweepConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(c ExpirySweeper, cfg *config.SweepConfig, logger *slog.Logger) *SweepWorker {
	return &SweepWorker{
		cache:  c,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sweep worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep loop and waits for it to exit
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sweep worker stopped")
	return nil
}

// run is the main worker loop
func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of rows removed
func (w *SweepWorker) RunOnce(ctx context.Context) int64 {
	startTime := time.Now()
	n, err := w.cache.SweepExpired(ctx)
	if err != nil {
		w.logger.Error("sweep cycle failed", "error", err)
		return 0
	}
	w.logger.Info("sweep cycle completed",
		"duration", time.Since(startTime),
		"removed", n,
	)
	return n
}
