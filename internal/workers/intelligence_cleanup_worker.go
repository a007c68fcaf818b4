package workers

import (
	"context"
	"log"
	"time"
)

type ExpiredIntelligenceDeleter interface {
	DeleteExpiredIntelligence(ctx context.Context, now time.Time) (int64, error)
}

// IntelligenceCleanupWorker removes intelligence entries whose expiry has passed.
type IntelligenceCleanupWorker struct {
	Store    ExpiredIntelligenceDeleter
	Interval time.Duration // default: 1 hour
	Logger   *log.Logger
	Now      func() time.Time
}

// Start runs the cleanup loop until ctx is cancelled.
func (w *IntelligenceCleanupWorker) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Interval = time.Hour
	}
	RunEvery(ctx, "intelligence_cleanup", w.Interval, w.logger(), func(ctx context.Context) error {
		_, err := w.Cleanup(ctx)
		return err
	})
}

// Cleanup deletes expired entries once and reports how many went.
func (w *IntelligenceCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now().UTC()
	}
	deleted, err := w.Store.DeleteExpiredIntelligence(ctx, now)
	if err != nil {
		w.logger().Printf("[IntelligenceCleanupWorker] error: %v", err)
		return 0, err
	}
	if deleted > 0 {
		w.logger().Printf("[IntelligenceCleanupWorker] deleted %d expired intelligence entries", deleted)
	}
	return deleted, nil
}

func (w *IntelligenceCleanupWorker) logger() *log.Logger {
	if w.Logger == nil {
		return log.Default()
	}
	return w.Logger
}
