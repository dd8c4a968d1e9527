// Package discovery searches the imagery catalog for scenes over each region
// and records new candidates as pending products.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"snowline/internal/aoi"
	"snowline/internal/catalog"
	"snowline/internal/logging"
	"snowline/internal/metrics"
	"snowline/internal/provider"
)

// Store is the slice of the catalog discovery writes to.
type Store interface {
	Regions(ctx context.Context) ([]*catalog.Region, error)
	RecordProducts(ctx context.Context, regionID int64, products []catalog.ProductInput) (catalog.RecordResult, error)
}

// Service records search results.
type Service struct {
	store   Store
	client  provider.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics counts created and skipped products.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New returns a discovery service.
func New(store Store, client provider.Client, opts ...Option) *Service {
	s := &Service{store: store, client: client}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "discovery")
	return s
}

// Window returns the lookback window ending at now.
func Window(now time.Time, lookbackDays int) provider.TimeRange {
	now = now.UTC()
	return provider.TimeRange{Start: now.AddDate(0, 0, -lookbackDays), End: now}
}

// Discover searches region's footprint and records every candidate. Products
// already in the catalog are counted as skipped. When the search fails part
// way, candidates received before the failure are still recorded and the
// error is returned alongside their counts.
func (s *Service) Discover(ctx context.Context, region *catalog.Region, window provider.TimeRange, maxCloudCoverPct float64) (catalog.RecordResult, error) {
	logger := s.logger.With(logging.String(logging.FieldRegion, region.Name))

	var (
		inputs    []catalog.ProductInput
		searchErr error
	)
	for candidate, err := range s.client.SearchProducts(ctx, aoi.RegionBound(region), window, maxCloudCoverPct) {
		if err != nil {
			searchErr = err
			break
		}
		input := catalog.ProductInput{
			ExternalID:    candidate.ExternalID,
			AcquiredAt:    candidate.AcquiredAt,
			CloudCoverPct: candidate.CloudCoverPct,
		}
		if candidate.Geometry != nil {
			input.Geometry = wkt.MarshalString(candidate.Geometry)
		}
		inputs = append(inputs, input)
	}

	var result catalog.RecordResult
	if len(inputs) > 0 {
		var err error
		result, err = s.store.RecordProducts(ctx, region.ID, inputs)
		if err != nil {
			return catalog.RecordResult{}, fmt.Errorf("record products for %s: %w", region.Name, err)
		}
		s.metrics.RecordDiscovery(result.Created, result.Skipped)
	}

	if searchErr != nil {
		logging.WarnWithContext(logger, "catalog search interrupted", "discovery_partial",
			logging.Int("recorded", result.Created),
			logging.Error(searchErr),
			logging.String(logging.FieldImpact, "later scenes in the window were not discovered"),
		)
		return result, fmt.Errorf("search %s: %w", region.Name, searchErr)
	}
	logger.Info("discovery complete",
		logging.String(logging.FieldEventType, "discovery_complete"),
		logging.Int("created", result.Created),
		logging.Int("skipped", result.Skipped),
		logging.String("window_start", window.Start.Format(time.DateOnly)),
		logging.String("window_end", window.End.Format(time.DateOnly)),
	)
	return result, nil
}

// DiscoverAll runs Discover for every stored region and sums the counts. A
// failed region does not stop the others; the first error is returned.
func (s *Service) DiscoverAll(ctx context.Context, window provider.TimeRange, maxCloudCoverPct float64) (catalog.RecordResult, error) {
	regions, err := s.store.Regions(ctx)
	if err != nil {
		return catalog.RecordResult{}, err
	}
	var (
		total    catalog.RecordResult
		firstErr error
	)
	for _, region := range regions {
		result, err := s.Discover(ctx, region, window, maxCloudCoverPct)
		total.Created += result.Created
		total.Skipped += result.Skipped
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}
