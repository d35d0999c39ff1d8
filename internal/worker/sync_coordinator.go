// Package worker contains background coordinators driven by the server.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinisync/clinisync/internal/sync"
)

// SyncRunner executes one upload pass. Implemented by sync.Engine.
type SyncRunner interface {
	Run(ctx context.Context) (*sync.Stats, error)
}

// SyncCoordinator periodically pushes pending local changes upstream.
type SyncCoordinator struct {
	engine   SyncRunner
	interval time.Duration
}

// NewSyncCoordinator creates a sync coordinator.
func NewSyncCoordinator(engine SyncRunner, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{engine: engine, interval: interval}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
//
// The first pass runs immediately so changes queued while the process was
// down do not wait a full interval.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	c.runOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *SyncCoordinator) runOnce(ctx context.Context) {
	stats, err := c.engine.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("sync pass failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
		return
	}

	if stats.Bundles == 0 {
		return
	}
	slog.Info("sync pass completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"bundles", stats.Bundles,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"acked", stats.Acked,
		"duration", stats.Duration.String(),
	)
}
