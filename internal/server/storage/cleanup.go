package storage

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService periodically removes stored payloads that outlived the
// retention age and are no longer referenced by any queue item.
type CleanupService struct {
	store      Store
	referenced func() map[string]bool
	maxAge     time.Duration
	interval   time.Duration
	done       chan struct{}
}

// NewCleanupService creates a new cleanup service. The referenced callback
// reports the storage keys currently held by the queue.
func NewCleanupService(store Store, referenced func() map[string]bool, maxAge, interval time.Duration) *CleanupService {
	return &CleanupService{
		store:      store,
		referenced: referenced,
		maxAge:     maxAge,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "max_age", cs.maxAge)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	objects, err := cs.store.List(ctx)
	if err != nil {
		slog.Error("failed to list stored media", "error", err)
		return
	}

	keep := cs.referenced()
	cutoff := time.Now().Add(-cs.maxAge)

	var cleaned, failed int
	for _, obj := range objects {
		if keep[obj.Key] || obj.ModTime.After(cutoff) {
			continue
		}

		if err := cs.store.Delete(ctx, obj.Key); err != nil {
			slog.Error("failed to delete stale media",
				"key", obj.Key,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up stale media",
			"key", obj.Key,
			"size", obj.Size,
			"mod_time", obj.ModTime,
		)
	}

	if cleaned > 0 || failed > 0 {
		slog.Info("cleanup cycle complete",
			"cleaned", cleaned,
			"failed", failed,
			"scanned", len(objects),
		)
	}
}
