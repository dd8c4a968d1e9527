package stage

import (
	"context"

	"github.com/google/uuid"

	"snowline/internal/services"
)

// UnitContext tags ctx with the product and stage of a work unit and, unless
// one is already present, a fresh correlation id shared by every log line the
// unit emits.
func UnitContext(ctx context.Context, productID int64, stageName string) context.Context {
	ctx = services.WithProductID(ctx, productID)
	ctx = services.WithStage(ctx, stageName)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}
