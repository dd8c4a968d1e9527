package workflow

import (
	"context"
	"log/slog"
	"time"

	"snowline/internal/logging"
)

// StaleReclaimer returns products stuck in processing to downloaded once
// they have been untouched for longer than the timeout. A worker that died
// mid-classification leaves its product in processing forever otherwise.
type StaleReclaimer struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewStaleReclaimer creates a reclaimer. A non-positive timeout disables it.
func NewStaleReclaimer(store Store, timeout time.Duration, now func() time.Time) *StaleReclaimer {
	if now == nil {
		now = time.Now
	}
	return &StaleReclaimer{store: store, timeout: timeout, now: now}
}

// ReclaimStale resets stale processing products and returns how many moved.
func (r *StaleReclaimer) ReclaimStale(ctx context.Context, logger *slog.Logger) (int64, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.timeout)
	reclaimed, err := r.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale processing products",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "stale_reclaimed"),
		)
	}
	return reclaimed, nil
}
