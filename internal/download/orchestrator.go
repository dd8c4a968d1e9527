// Package download turns pending catalog products into raster artifacts on
// disk. Each product is claimed, fetched through the retry policy, written
// atomically and then moved to downloaded, or to failed with the last error.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"snowline/internal/aoi"
	"snowline/internal/artifacts"
	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/logging"
	"snowline/internal/metrics"
	"snowline/internal/provider"
	"snowline/internal/retry"
	"snowline/internal/services"
	"snowline/internal/stage"
)

// StageName labels logs, metrics and context for this stage.
const StageName = metrics.StageDownload

// Store is the slice of the catalog the orchestrator needs.
type Store interface {
	Entry(ctx context.Context, productID int64) (*catalog.Entry, error)
	RegionByName(ctx context.Context, name string) (*catalog.Region, error)
	ListByStatus(ctx context.Context, status catalog.Status, limit int) ([]*catalog.Entry, error)
	ClaimDownload(ctx context.Context, productID int64, leaseCutoff time.Time) (bool, error)
	Transition(ctx context.Context, productID int64, from, to catalog.Status, meta catalog.TransitionMeta) error
}

// Orchestrator downloads products.
type Orchestrator struct {
	store   Store
	client  provider.Client
	cfg     *config.Config
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records unit outcomes, retries and bytes written.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the backoff wait, typically with retry.NoSleep in tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.policy.Sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator from the download and provider settings in cfg.
func New(store Store, client provider.Client, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		client: client,
		cfg:    cfg,
		policy: retry.Policy{
			MaxAttempts:    cfg.Download.MaxAttempts,
			BaseDelay:      cfg.Download.BaseDelay(),
			MaxDelay:       cfg.Download.MaxDelay(),
			AttemptTimeout: cfg.Provider.RequestTimeout(),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, StageName)
	return o
}

// Name implements stage.Handler.
func (o *Orchestrator) Name() string { return StageName }

// RunBatch implements stage.Handler.
func (o *Orchestrator) RunBatch(ctx context.Context, limit int) (batch.Summary, error) {
	return o.DownloadPending(ctx, limit)
}

// HealthCheck implements stage.Handler.
func (o *Orchestrator) HealthCheck(context.Context) stage.Health {
	if o.client == nil {
		return stage.Unhealthy(StageName, "no catalog client configured")
	}
	if o.cfg.Paths.DataDir == "" {
		return stage.Unhealthy(StageName, "data directory not configured")
	}
	return stage.Healthy(StageName)
}

// DownloadProduct fetches and stores one product. Products that are not
// pending, or that another worker holds, are skipped without a fetch.
func (o *Orchestrator) DownloadProduct(ctx context.Context, productID int64) (batch.Outcome, error) {
	ctx = stage.UnitContext(ctx, productID, StageName)
	logger := logging.WithContext(ctx, o.logger)

	entry, err := o.store.Entry(ctx, productID)
	if err != nil {
		return batch.Failed, err
	}
	logger = logger.With(
		logging.String(logging.FieldExternalID, entry.Product.ExternalID),
		logging.String(logging.FieldRegion, entry.RegionName),
	)
	if entry.State.Status != catalog.StatusPending {
		logger.Debug("product already handled", logging.String("status", string(entry.State.Status)))
		return batch.Skipped, nil
	}

	claimed, err := o.store.ClaimDownload(ctx, productID, o.now().Add(-o.cfg.Download.ClaimTimeout()))
	if err != nil {
		return batch.Failed, err
	}
	if !claimed {
		logger.Debug("product claimed by another worker")
		return batch.Skipped, nil
	}

	region, err := o.store.RegionByName(ctx, entry.RegionName)
	if err != nil {
		return batch.Failed, err
	}

	path := artifacts.RawImagePath(o.cfg.Paths.DataDir, entry.RegionName, entry.Product.AcquiredAt, entry.Product.ExternalID)
	attempts, size, err := o.fetchAndStore(ctx, logger, entry, aoi.RegionBound(region), path)
	if err != nil {
		return o.fail(ctx, logger, entry, attempts, err)
	}

	err = o.store.Transition(ctx, productID, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{
		LocalPath:   path,
		FileSize:    size,
		Attempts:    attempts,
		CompletedAt: o.now(),
	})
	if errors.Is(err, catalog.ErrConflict) {
		logger.Info("another worker completed the download first")
		return batch.Skipped, nil
	}
	if err != nil {
		return batch.Failed, err
	}
	o.metrics.AddArtifactBytes(StageName, size)
	logger.Info("product downloaded",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.String("path", path),
		logging.Int64("bytes", size),
		logging.Int("attempts", attempts),
	)
	return batch.Succeeded, nil
}

func (o *Orchestrator) fetchAndStore(ctx context.Context, logger *slog.Logger, entry *catalog.Entry, bbox orb.Bound, path string) (int, int64, error) {
	policy := o.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.metrics.RecordRetry(err)
		logging.WarnWithContext(logger, "band fetch failed; retrying", "download_retry",
			logging.Int("attempt", attempt+1),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "catalog service may be throttling or unavailable"),
			logging.String(logging.FieldImpact, "download delayed"),
		)
	}

	var bands *provider.Bands
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		fetched, err := o.client.FetchRasterBands(ctx, entry.Product.ExternalID, bbox,
			o.cfg.Provider.Bands(), o.cfg.Provider.ResolutionMeters)
		if err != nil {
			return err
		}
		bands = fetched
		return nil
	})
	if err != nil {
		return attempts, 0, err
	}

	img, err := assemble(bands, o.cfg.Provider.GreenBand, o.cfg.Provider.SWIRBand)
	if err != nil {
		return attempts, 0, err
	}
	size, err := artifacts.WriteRaster(path, img, rawEncodeOptions)
	if err != nil {
		return attempts, 0, err
	}
	return attempts, size, nil
}

// fail records the error on the product. When the caller's context was
// cancelled the claim is left to expire instead, so the product is retried
// rather than failed.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, entry *catalog.Entry, attempts int, cause error) (batch.Outcome, error) {
	if ctx.Err() != nil {
		return batch.Failed, cause
	}
	err := o.store.Transition(ctx, entry.Product.ID, catalog.StatusPending, catalog.StatusFailed, catalog.TransitionMeta{
		LastError: cause.Error(),
		Attempts:  attempts,
	})
	if errors.Is(err, catalog.ErrConflict) {
		return batch.Skipped, nil
	}
	if err != nil {
		return batch.Failed, fmt.Errorf("%w (recording failure: %v)", cause, err)
	}
	logging.ErrorWithContext(logger, "product download failed", "download_failed",
		logging.Int("attempts", attempts),
		logging.String("error_kind", services.Kind(cause)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "run `snowline reset` once the cause is fixed"),
	)
	return batch.Failed, cause
}

// DownloadPending downloads up to limit pending products, oldest acquisition
// first. Failures carry the error stored on the product.
func (o *Orchestrator) DownloadPending(ctx context.Context, limit int) (batch.Summary, error) {
	entries, err := o.store.ListByStatus(ctx, catalog.StatusPending, limit)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("list pending products: %w", err)
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Product.ID)
	}
	if len(ids) == 0 {
		return batch.Summary{}, nil
	}

	o.logger.Info("download batch starting", logging.Int("products", len(ids)), logging.Int("workers", o.cfg.Download.Workers))
	summary, runErr := batch.Run(ctx, ids, batch.Options{
		Workers:  o.cfg.Download.Workers,
		OnResult: func(r batch.Result) { o.metrics.ObserveUnit(StageName, r) },
	}, o.DownloadProduct)
	summary.EnrichFailures(storedError(context.WithoutCancel(ctx), o.store))
	o.logger.Info("download batch finished",
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
	)
	return summary, runErr
}

func storedError(ctx context.Context, store interface {
	Entry(context.Context, int64) (*catalog.Entry, error)
}) func(int64) (string, bool) {
	return func(id int64) (string, bool) {
		entry, err := store.Entry(ctx, id)
		if err != nil || entry.State.Status != catalog.StatusFailed {
			return "", false
		}
		return entry.State.LastError, true
	}
}
