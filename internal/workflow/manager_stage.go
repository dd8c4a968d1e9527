package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/discovery"
	"snowline/internal/logging"
)

// StageReport is the outcome of one stage within a cycle.
type StageReport struct {
	Name     string
	Summary  batch.Summary
	Err      error
	Duration time.Duration
}

// CycleReport summarizes one pass over the pipeline.
type CycleReport struct {
	StartedAt  time.Time
	Reclaimed  int64
	Discovered catalog.RecordResult
	Stages     []StageReport
	Statuses   map[catalog.Status]int
}

// RunOnce executes a single cycle: reclaim, discover, then each stage in
// order. Stage errors do not stop later stages; the first one is returned.
// Cancellation stops the cycle between stages.
func (m *Manager) RunOnce(ctx context.Context) (CycleReport, error) {
	m.mu.RLock()
	stages := append([]pipelineStage(nil), m.stages...)
	discoverer := m.discoverer
	m.mu.RUnlock()

	report := CycleReport{StartedAt: m.now()}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	reclaimed, err := m.reclaimer.ReclaimStale(ctx, m.logger)
	if err != nil {
		logging.WarnWithContext(m.logger, "reclaim stale processing failed; stuck products may remain", "stale_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
		record(err)
	}
	report.Reclaimed = reclaimed

	if discoverer != nil && ctx.Err() == nil {
		window := discovery.Window(m.now(), m.cfg.Discovery.LookbackDays)
		found, err := discoverer.DiscoverAll(ctx, window, m.cfg.Discovery.MaxCloudCover)
		report.Discovered = found
		if err != nil {
			logging.WarnWithContext(m.logger, "discovery incomplete", "discovery_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new scenes will be picked up next cycle"),
			)
			record(err)
		}
	}

	for _, stg := range stages {
		if ctx.Err() != nil {
			break
		}
		sr := m.runStage(ctx, stg)
		report.Stages = append(report.Stages, sr)
		record(sr.Err)
	}

	stats, err := m.store.Stats(context.WithoutCancel(ctx))
	if err != nil {
		record(fmt.Errorf("read catalog stats: %w", err))
	} else {
		report.Statuses = stats
		m.metrics.SetStatusCounts(stats)
	}

	if ctx.Err() != nil {
		record(ctx.Err())
	}
	m.finishCycle(report, firstErr)
	return report, firstErr
}

func (m *Manager) runStage(ctx context.Context, stg pipelineStage) StageReport {
	logger := m.logger.With(logging.String(logging.FieldStage, stg.name))
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"), logging.Int("limit", stg.limit))

	summary, err := stg.handler.RunBatch(ctx, stg.limit)
	sr := StageReport{Name: stg.name, Summary: summary, Err: err, Duration: time.Since(start)}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("stage batch failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "stage_failed"),
			logging.String(logging.FieldErrorHint, "check catalog database access"),
		)
		return sr
	}
	if summary.Attempted == 0 {
		logger.Debug("stage idle")
		return sr
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Duration("stage_duration", sr.Duration),
	)
	for _, f := range summary.Failures {
		logger.Warn("product failed",
			logging.Int64(logging.FieldProductID, f.ProductID),
			logging.String("error", f.Error),
			logging.String(logging.FieldEventType, "product_failed"),
			logging.String(logging.FieldErrorHint, "inspect with `snowline show`, then `snowline reset`"),
		)
	}
	return sr
}

func (m *Manager) finishCycle(report CycleReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCycle = &report
	if err != nil {
		m.lastErr = err
	}
}
