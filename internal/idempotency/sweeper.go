package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/metrics"
)

// RunSweeper calls Sweep every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				metrics.StoreErrors.WithLabelValues("sweep").Inc()
				logger.Error("idempotency sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				metrics.SweptRecords.Add(float64(removed))
				logger.Debug("idempotency sweep", "removed", removed)
			}
		}
	}
}
