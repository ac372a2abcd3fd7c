package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/ingest"
)

// Syncer runs a full ingestion pass.
type Syncer interface {
	SyncAll(ctx context.Context) ([]*ingest.Report, error)
}

// SyncScheduler periodically runs every configured sync
type SyncScheduler struct {
	syncer   Syncer
	interval time.Duration
	done     chan bool
	stopped  chan struct{}
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(syncer Syncer, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		syncer:   syncer,
		interval: interval,
		done:     make(chan bool),
		stopped:  make(chan struct{}),
	}
}

// Start begins the sync loop. The first pass runs after one interval.
func (s *SyncScheduler) Start(ctx context.Context) {
	defer close(s.stopped)
	zap.S().Infof("⏰ Sync scheduler started (every %v)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		select {
		case <-ticker.C:
			s.runOnce(runCtx)
		case <-runCtx.Done():
			zap.S().Info("⏰ Sync scheduler stopped")
			return
		case <-s.done:
			zap.S().Info("⏰ Sync scheduler stopped")
			return
		}
	}
}

// Stop stops the sync loop and waits for an in-flight pass to finish.
func (s *SyncScheduler) Stop() {
	select {
	case s.done <- true:
	case <-s.stopped:
	}
	<-s.stopped
}

func (s *SyncScheduler) runOnce(ctx context.Context) {
	start := time.Now()
	zap.S().Info("🔄 Scheduled sync starting...")

	reports, err := s.syncer.SyncAll(ctx)
	if err != nil {
		zap.S().Errorf("❌ Scheduled sync aborted after %d runs: %v", len(reports), err)
		return
	}

	written := 0
	for _, r := range reports {
		written += r.Written
	}
	zap.S().Infof("✅ Scheduled sync finished: %d runs, %d rows written in %v",
		len(reports), written, time.Since(start).Round(time.Millisecond))
}
