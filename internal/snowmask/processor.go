// Package snowmask classifies downloaded rasters into snow masks and records
// the per-threshold results in the catalog.
package snowmask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"snowline/internal/artifacts"
	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/logging"
	"snowline/internal/metrics"
	"snowline/internal/ndsi"
	"snowline/internal/raster"
	"snowline/internal/services"
	"snowline/internal/stage"
)

// StageName labels logs, metrics and context for this stage.
const StageName = metrics.StageProcess

// Store is the slice of the catalog the processor needs.
type Store interface {
	Entry(ctx context.Context, productID int64) (*catalog.Entry, error)
	ListByStatus(ctx context.Context, status catalog.Status, limit int) ([]*catalog.Entry, error)
	Transition(ctx context.Context, productID int64, from, to catalog.Status, meta catalog.TransitionMeta) error
	RecordMaskResult(ctx context.Context, productID int64, threshold float64, stats catalog.MaskStats, maskPath string) (*catalog.MaskResult, error)
	MaskResult(ctx context.Context, productID int64, threshold float64) (*catalog.MaskResult, error)
}

// Processor runs the NDSI classification for downloaded products.
type Processor struct {
	store   Store
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Processor.
type Option func(*Processor)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics records unit outcomes, snow cover and mask bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New returns a processor using the snow mask settings in cfg.
func New(store Store, cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, StageName)
	return p
}

// Name implements stage.Handler.
func (p *Processor) Name() string { return StageName }

// RunBatch implements stage.Handler using the configured threshold.
func (p *Processor) RunBatch(ctx context.Context, limit int) (batch.Summary, error) {
	return p.ProcessDownloaded(ctx, limit, p.cfg.SnowMask.Threshold, p.cfg.SnowMask.PersistMasks)
}

// HealthCheck implements stage.Handler.
func (p *Processor) HealthCheck(context.Context) stage.Health {
	if p.cfg.SnowMask.Epsilon <= 0 {
		return stage.Unhealthy(StageName, "epsilon must be positive")
	}
	return stage.Healthy(StageName)
}

// ProcessProduct classifies one product at threshold.
//
// A product already processed at this threshold is skipped. A product
// processed at other thresholds gains a result for this one without a
// status change. Otherwise the product must be downloaded.
func (p *Processor) ProcessProduct(ctx context.Context, productID int64, threshold float64, persistMask bool) (batch.Outcome, error) {
	ctx = stage.UnitContext(ctx, productID, StageName)
	logger := logging.WithContext(ctx, p.logger)

	entry, err := p.store.Entry(ctx, productID)
	if err != nil {
		return batch.Failed, err
	}
	logger = logger.With(
		logging.String(logging.FieldExternalID, entry.Product.ExternalID),
		logging.String(logging.FieldRegion, entry.RegionName),
		logging.Float64("threshold", threshold),
	)

	switch entry.State.Status {
	case catalog.StatusProcessed:
		return p.addThreshold(ctx, logger, entry, threshold, persistMask)
	case catalog.StatusDownloaded:
	default:
		return batch.Failed, &catalog.InvalidStateError{ProductID: productID, Status: entry.State.Status, Operation: "process"}
	}

	err = p.store.Transition(ctx, productID, catalog.StatusDownloaded, catalog.StatusProcessing, catalog.TransitionMeta{})
	if errors.Is(err, catalog.ErrConflict) {
		logger.Debug("product picked up by another worker")
		return batch.Skipped, nil
	}
	if err != nil {
		return batch.Failed, err
	}

	if err := p.classify(ctx, logger, entry, threshold, persistMask); err != nil {
		ferr := p.store.Transition(ctx, productID, catalog.StatusProcessing, catalog.StatusFailed, catalog.TransitionMeta{
			LastError: err.Error(),
		})
		if errors.Is(ferr, catalog.ErrConflict) {
			logger.Debug("product reclaimed while processing; leaving it to the next worker", logging.Error(err))
			return batch.Skipped, nil
		}
		if ferr != nil {
			return batch.Failed, fmt.Errorf("%w (recording failure: %v)", err, ferr)
		}
		logging.ErrorWithContext(logger, "snow mask failed", "process_failed",
			logging.String("error_kind", services.Kind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the raw raster, then `snowline reset` and re-download"),
		)
		return batch.Failed, err
	}

	err = p.store.Transition(ctx, productID, catalog.StatusProcessing, catalog.StatusProcessed, catalog.TransitionMeta{})
	if errors.Is(err, catalog.ErrConflict) {
		logger.Debug("product reclaimed while processing; result kept for the next worker")
		return batch.Skipped, nil
	}
	if err != nil {
		return batch.Failed, err
	}
	return batch.Succeeded, nil
}

func (p *Processor) addThreshold(ctx context.Context, logger *slog.Logger, entry *catalog.Entry, threshold float64, persistMask bool) (batch.Outcome, error) {
	_, err := p.store.MaskResult(ctx, entry.Product.ID, threshold)
	if err == nil {
		logger.Debug("threshold already recorded")
		return batch.Skipped, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return batch.Failed, err
	}
	if err := p.classify(ctx, logger, entry, threshold, persistMask); err != nil {
		return batch.Failed, err
	}
	return batch.Succeeded, nil
}

// classify reads the raw raster, computes the mask and records the result.
func (p *Processor) classify(ctx context.Context, logger *slog.Logger, entry *catalog.Entry, threshold float64, persistMask bool) error {
	img, err := raster.ReadFile(entry.State.LocalPath)
	if err != nil {
		return err
	}
	if len(img.Bands) < 2 {
		return services.Wrap(services.ErrShapeMismatch, StageName, "read raster",
			fmt.Sprintf("expected green and swir bands, found %d", len(img.Bands)), nil)
	}

	index, err := ndsi.ComputeIndex(img.Bands[0], img.Bands[1], p.cfg.SnowMask.Epsilon)
	if err != nil {
		return err
	}
	mask := ndsi.ApplyThreshold(index, threshold)
	stats, err := ndsi.ComputeStatistics(mask)
	if err != nil {
		return err
	}
	summary := ndsi.Summarize(index)

	var maskPath string
	if persistMask {
		maskPath = artifacts.MaskPath(p.cfg.Paths.DataDir, entry.RegionName, entry.Product.AcquiredAt, entry.Product.ExternalID, threshold)
		size, err := artifacts.WriteRaster(maskPath, &raster.Image{
			Width:  img.Width,
			Height: img.Height,
			Depth:  raster.Uint8,
			Bands:  []*mat.Dense{mask.Dense()},
			Georef: img.Georef,
		}, raster.EncodeOptions{Compression: raster.CompressionDeflate})
		if err != nil {
			return err
		}
		p.metrics.AddArtifactBytes(StageName, size)
	}

	_, err = p.store.RecordMaskResult(ctx, entry.Product.ID, threshold, catalog.MaskStats{
		SnowPixels:  stats.SnowPixels,
		TotalPixels: stats.TotalPixels,
		SnowPct:     stats.SnowPct,
	}, maskPath)
	switch {
	case errors.Is(err, catalog.ErrDuplicate):
		logger.Info("mask result already recorded")
		return nil
	case err != nil:
		return err
	}

	p.metrics.ObserveSnowCover(stats.SnowPct)
	logger.Info("snow mask computed",
		logging.String(logging.FieldEventType, "process_complete"),
		logging.Int64("snow_pixels", stats.SnowPixels),
		logging.Int64("total_pixels", stats.TotalPixels),
		logging.Float64("snow_pct", stats.SnowPct),
		logging.Float64("ndsi_min", summary.Min),
		logging.Float64("ndsi_mean", summary.Mean),
		logging.Float64("ndsi_max", summary.Max),
		logging.String("mask_path", maskPath),
	)
	return nil
}

// ProcessDownloaded classifies up to limit downloaded products.
func (p *Processor) ProcessDownloaded(ctx context.Context, limit int, threshold float64, persistMask bool) (batch.Summary, error) {
	entries, err := p.store.ListByStatus(ctx, catalog.StatusDownloaded, limit)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("list downloaded products: %w", err)
	}
	if len(entries) == 0 {
		return batch.Summary{}, nil
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Product.ID)
	}
	return p.ProcessIDs(ctx, ids, threshold, persistMask)
}

// ProcessIDs classifies the given products in a batch. Processed products
// gain a result for threshold when they lack one.
func (p *Processor) ProcessIDs(ctx context.Context, ids []int64, threshold float64, persistMask bool) (batch.Summary, error) {
	if len(ids) == 0 {
		return batch.Summary{}, nil
	}
	p.logger.Info("process batch starting",
		logging.Int("products", len(ids)),
		logging.Float64("threshold", threshold),
		logging.Int("workers", p.cfg.SnowMask.Workers),
	)
	summary, runErr := batch.Run(ctx, ids, batch.Options{
		Workers:  p.cfg.SnowMask.Workers,
		OnResult: func(r batch.Result) { p.metrics.ObserveUnit(StageName, r) },
	}, func(ctx context.Context, id int64) (batch.Outcome, error) {
		return p.ProcessProduct(ctx, id, threshold, persistMask)
	})
	store := p.store
	summary.EnrichFailures(func(id int64) (string, bool) {
		entry, err := store.Entry(context.WithoutCancel(ctx), id)
		if err != nil || entry.State.Status != catalog.StatusFailed {
			return "", false
		}
		return entry.State.LastError, true
	})
	p.logger.Info("process batch finished",
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
	)
	return summary, runErr
}
