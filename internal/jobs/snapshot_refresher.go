package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
)

// SnapshotRefresher periodically pulls the device list so the store's
// snapshots stay fresh and the session token stays warm (a list call inside
// the refresh window triggers the proactive token refresh).
type SnapshotRefresher struct {
	logger   *zap.Logger
	service  *arcus.Service
	interval time.Duration
	stopCh   chan struct{}
}

// NewSnapshotRefresher constructs a background job that runs periodically.
func NewSnapshotRefresher(logger *zap.Logger, service *arcus.Service, interval time.Duration) *SnapshotRefresher {
	return &SnapshotRefresher{
		logger:   logger,
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until Stop or context cancellation.
func (r *SnapshotRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("snapshot_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("snapshot_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("snapshot_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop terminates the loop.
func (r *SnapshotRefresher) Stop() {
	close(r.stopCh)
}

func (r *SnapshotRefresher) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	devices, err := r.service.ListDevices(runCtx)
	if err != nil {
		r.logger.Warn("snapshot_refresher.refresh_failed", zap.Error(err))
		return
	}
	r.logger.Debug("snapshot_refresher.refreshed", zap.Int("devices", len(devices)))
}
