package workflow

import (
	"context"
	"log/slog"

	"snowline/internal/logging"
	"snowline/internal/preflight"
)

// runPreflightChecks validates paths and the catalog source before the loop
// starts. Returns nil when all checks pass, or an error describing all
// failures.
func (m *Manager) runPreflightChecks(ctx context.Context, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, m.cfg)
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the pipeline"),
		)
	}
	return preflight.Failures(results)
}
