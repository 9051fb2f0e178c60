package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elo-ladder/internal/config"
	"github.com/elo-ladder/internal/postgres"
	"github.com/elo-ladder/internal/redis"
)

// SyncWorker periodically rebuilds the Redis rating cache from PostgreSQL.
// The ledger keeps the cache current after each mutation; this worker covers
// recovery after a Redis restart or missed update.
type SyncWorker struct {
	cache   *redis.RatingCache
	store   *postgres.Repository
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	cache *redis.RatingCache,
	store *postgres.Repository,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		cache:  cache,
		store:  store,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
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

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
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
			w.syncOnce(ctx)
		}
	}
}

// syncOnce rebuilds the rating cache from the database
func (w *SyncWorker) syncOnce(ctx context.Context) {
	startTime := time.Now()

	if err := w.SyncFromDatabase(ctx); err != nil {
		w.logger.Error("failed to rebuild rating cache", "error", err)
		return
	}

	w.logger.Info("sync cycle completed", "duration", time.Since(startTime))
}

// SyncFromDatabase rebuilds the Redis rating cache from a fresh database
// snapshot. Also used at startup for recovery.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context) error {
	snapshot, err := w.store.RatingsSnapshot(ctx)
	if err != nil {
		return err
	}

	if err := w.cache.Rebuild(ctx, snapshot); err != nil {
		return err
	}

	w.logger.Debug("rating cache synced from database", "player_count", len(snapshot))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncOnce(ctx)
}
