package workers

import (
	"context"
	"log"
	"time"

	"github.com/PortNumber53/adroom/backend/internal/metrics"
)

// RunEvery runs fn once immediately and then once per interval until ctx is done.
// Passes run on the calling goroutine, so a slow pass delays the next tick instead of overlapping it.
func RunEvery(ctx context.Context, name string, interval time.Duration, logger *log.Logger, fn func(ctx context.Context) error) {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	pass := func() {
		started := time.Now()
		err := fn(ctx)
		metrics.ObserveSweep(name, started, err)
		if err != nil {
			logger.Printf("[Scheduler] pass failed sweep=%s duration=%s err=%v", name, time.Since(started).Round(time.Millisecond), err)
			return
		}
		logger.Printf("[Scheduler] pass done sweep=%s duration=%s", name, time.Since(started).Round(time.Millisecond))
	}

	logger.Printf("[Scheduler] started sweep=%s interval=%s", name, interval)
	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("[Scheduler] stopped sweep=%s", name)
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			pass()
		}
	}
}
