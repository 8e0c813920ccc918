package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/store"
)

// SyncWorker periodically copies the primary store into an archive store and
// restores the primary from the archive after data loss
type SyncWorker struct {
	primary store.Store
	archive store.Store
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(primary, archive store.Store, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		primary: primary,
		archive: archive,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	if w.config.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", w.config.Interval)
	}

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
			w.RunOnce(ctx)
		}
	}
}

// SyncToArchive replaces the archive with the primary store's sessions. An
// empty primary is not copied, so a flushed cache cannot wipe the archive.
func (w *SyncWorker) SyncToArchive(ctx context.Context) (int, error) {
	entries, err := w.primary.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading primary store: %w", err)
	}

	if len(entries) == 0 {
		w.logger.Debug("no sessions to archive")
		return 0, nil
	}

	if err := w.archive.Save(ctx, entries); err != nil {
		return 0, fmt.Errorf("saving archive: %w", err)
	}
	return len(entries), nil
}

// RestoreIfEmpty copies the archive into the primary store when the primary
// holds no sessions, typically after a Redis restart
func (w *SyncWorker) RestoreIfEmpty(ctx context.Context) (int, error) {
	current, err := w.primary.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading primary store: %w", err)
	}
	if len(current) > 0 {
		return 0, nil
	}

	archived, err := w.archive.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading archive: %w", err)
	}
	if len(archived) == 0 {
		return 0, nil
	}

	if err := w.primary.Save(ctx, archived); err != nil {
		return 0, fmt.Errorf("restoring primary store: %w", err)
	}

	w.logger.Info("restored sessions from archive", "count", len(archived))
	return len(archived), nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()

	count, err := w.SyncToArchive(ctx)
	if err != nil {
		w.logger.Error("sync cycle failed", "error", err)
		return
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"sessions", count,
	)
}
