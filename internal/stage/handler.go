package stage

import (
	"context"

	"snowline/internal/batch"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Name() string
	// RunBatch processes up to limit eligible products. Zero means no limit.
	RunBatch(ctx context.Context, limit int) (batch.Summary, error)
	HealthCheck(context.Context) Health
}
