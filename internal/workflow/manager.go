package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/logging"
	"snowline/internal/metrics"
	"snowline/internal/provider"
	"snowline/internal/stage"
)

// Store is the slice of the catalog the manager reads and maintains.
type Store interface {
	Stats(ctx context.Context) (map[catalog.Status]int, error)
	ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// Discoverer finds new scenes for every region.
type Discoverer interface {
	DiscoverAll(ctx context.Context, window provider.TimeRange, maxCloudCoverPct float64) (catalog.RecordResult, error)
}

// Manager coordinates the pipeline stages.
type Manager struct {
	cfg          *config.Config
	store        Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	preflight    bool
	now          func() time.Time

	reclaimer  *StaleReclaimer
	discoverer Discoverer
	stages     []pipelineStage

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastCycle *CycleReport
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithMetrics publishes status counts after every cycle.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithoutPreflight skips the readiness checks in Start.
func WithoutPreflight() ManagerOption {
	return func(mgr *Manager) { mgr.preflight = false }
}

// WithClock replaces time.Now for the stale cutoff and discovery window.
func WithClock(now func() time.Time) ManagerOption {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: cfg.Workflow.PollInterval(),
		preflight:    true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reclaimer = NewStaleReclaimer(store, cfg.Workflow.StaleProcessingAfter(), m.now)
	return m
}

// StageSet bundles the handlers the manager runs each cycle. Nil members are
// left out.
type StageSet struct {
	Discovery Discoverer
	Download  stage.Handler
	Process   stage.Handler
}

type pipelineStage struct {
	name    string
	handler stage.Handler
	limit   int
}
