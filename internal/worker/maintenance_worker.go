package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/queue"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
)

// Snapshot is the pipeline state observed on one maintenance tick.
type Snapshot struct {
	Queue      queue.Stats
	Limiter    ratelimiter.Stats
	LedgerSize int
}

// Pipeline is the subset of the activity pipeline maintenance needs.
type Pipeline interface {
	QueueStats() queue.Stats
	LimiterStats() ratelimiter.Stats
	LedgerSize() int
	Purge(now time.Time) (pruned int)
}

// MaintenanceWorker periodically drops expired limiter timestamps and old
// ledger entries so neither grows for the life of the process, then
// reports a snapshot for the gauges.
type MaintenanceWorker struct {
	pipeline Pipeline
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	onTick   func(Snapshot)
}

// NewMaintenanceWorker constructs the worker. onTick is optional (nil = no-op).
func NewMaintenanceWorker(
	pipeline Pipeline,
	interval time.Duration,
	logger *zap.Logger,
	onTick func(Snapshot),
) *MaintenanceWorker {
	if onTick == nil {
		onTick = func(Snapshot) {}
	}
	return &MaintenanceWorker{
		pipeline: pipeline, interval: interval,
		now: time.Now, logger: logger, onTick: onTick,
	}
}

// Run ticks every interval until ctx is cancelled.
func (mw *MaintenanceWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(mw.interval)
	defer ticker.Stop()

	mw.logger.Info("maintenance worker started", zap.Duration("interval", mw.interval))

	for {
		select {
		case <-ctx.Done():
			mw.logger.Info("maintenance worker stopping")
			return
		case <-ticker.C:
			mw.Tick()
		}
	}
}

// Tick runs one maintenance pass and returns what it observed.
func (mw *MaintenanceWorker) Tick() Snapshot {
	if pruned := mw.pipeline.Purge(mw.now()); pruned > 0 {
		mw.logger.Debug("pruned dedup ledger", zap.Int("count", pruned))
	}

	snap := Snapshot{
		Queue:      mw.pipeline.QueueStats(),
		Limiter:    mw.pipeline.LimiterStats(),
		LedgerSize: mw.pipeline.LedgerSize(),
	}
	mw.onTick(snap)
	return snap
}
