package logging

import (
	"context"
	"log/slog"

	"snowline/internal/services"
)

const (
	// FieldComponent names the emitting component (download, snowmask, ...).
	FieldComponent = "component"
	// FieldProductID is the catalog product identifier.
	FieldProductID = "product_id"
	// FieldExternalID is the provider's product identifier.
	FieldExternalID = "external_id"
	// FieldRegion is the region name.
	FieldRegion = "region"
	// FieldStage is the pipeline stage name.
	FieldStage = "stage"
	// FieldCorrelationID ties together every line emitted for one work unit.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies notable events for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.ProductIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldProductID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
