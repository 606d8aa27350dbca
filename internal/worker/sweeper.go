// Package worker runs background maintenance for sessions.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/taleweaver/taleweaver/internal/engine"
	"github.com/taleweaver/taleweaver/internal/store"
)

const sweepInterval = 5 * time.Minute

// StartStaleSweeper runs a background goroutine that periodically
// completes sessions left idle beyond the TTL. Abandoned sessions go
// through the same compare-and-set completion path as a normal exchange,
// which also frees the user's single active-session slot.
func StartStaleSweeper(ctx context.Context, repo store.Repository, eng *engine.Engine, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Stale session sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepStaleSessions(ctx, repo, eng, ttl)
			case <-ctx.Done():
				slog.Info("Stale session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepStaleSessions(ctx context.Context, repo store.Repository, eng *engine.Engine, ttl time.Duration) {
	stale, err := repo.GetStaleSessions(ctx, time.Now().Add(-ttl))
	if err != nil {
		slog.Error("Sweeper failed to query stale sessions", "error", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	slog.Info("Sweeper found stale sessions", "count", len(stale))

	completed := 0
	for _, sess := range stale {
		if _, err := eng.CompleteSession(ctx, sess.ID); err != nil {
			slog.Warn("Sweeper failed to complete stale session",
				"session_id", sess.ID,
				"error", err)
			continue
		}
		completed++
	}

	slog.Info("Sweeper cleanup completed", "completed", completed)
}
