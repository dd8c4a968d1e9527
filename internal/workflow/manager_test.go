package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/logging"
	"snowline/internal/provider"
	"snowline/internal/stage"
	"snowline/internal/testsupport"
	"snowline/internal/workflow"
)

type stubStage struct {
	name    string
	summary batch.Summary
	err     error
	health  stage.Health

	mu     sync.Mutex
	limits []int
	order  *[]string
	ran    chan struct{}
}

func newStubStage(name string, order *[]string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name), order: order, ran: make(chan struct{}, 16)}
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) RunBatch(_ context.Context, limit int) (batch.Summary, error) {
	s.mu.Lock()
	s.limits = append(s.limits, limit)
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	s.mu.Unlock()
	select {
	case s.ran <- struct{}{}:
	default:
	}
	return s.summary, s.err
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubStage) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limits)
}

type stubDiscoverer struct {
	window provider.TimeRange
	result catalog.RecordResult
}

func (d *stubDiscoverer) DiscoverAll(_ context.Context, window provider.TimeRange, _ float64) (catalog.RecordResult, error) {
	d.window = window
	return d.result, nil
}

func newManager(t *testing.T, cfg *config.Config, opts ...workflow.ManagerOption) (*workflow.Manager, *catalog.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	opts = append([]workflow.ManagerOption{workflow.WithoutPreflight()}, opts...)
	return workflow.NewManager(cfg, store, logging.NewNop(), opts...), store
}

func TestRunOnceRunsStagesInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Download.BatchLimit = 7
	cfg.SnowMask.BatchLimit = 9
	mgr, _ := newManager(t, cfg)

	var order []string
	dl := newStubStage("download", &order)
	dl.summary = batch.Summary{Attempted: 2, Succeeded: 2}
	proc := newStubStage("process", &order)
	mgr.ConfigureStages(workflow.StageSet{Download: dl, Process: proc})

	report, err := mgr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if strings.Join(order, ",") != "download,process" {
		t.Fatalf("unexpected stage order %v", order)
	}
	if dl.limits[0] != 7 || proc.limits[0] != 9 {
		t.Fatalf("unexpected limits: download=%v process=%v", dl.limits, proc.limits)
	}
	if len(report.Stages) != 2 || report.Stages[0].Summary.Succeeded != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Statuses == nil {
		t.Fatal("expected status counts in report")
	}
}

func TestRunOnceContinuesAfterStageError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newManager(t, cfg)

	dl := newStubStage("download", nil)
	dl.err = errors.New("list pending products: database is locked")
	proc := newStubStage("process", nil)
	mgr.ConfigureStages(workflow.StageSet{Download: dl, Process: proc})

	_, err := mgr.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected download error, got %v", err)
	}
	if proc.calls() != 1 {
		t.Fatalf("process stage should still run, got %d calls", proc.calls())
	}
	if status := mgr.Status(context.Background()); !strings.Contains(status.LastError, "database is locked") {
		t.Fatalf("expected last error in status, got %q", status.LastError)
	}
}

func TestRunOnceReclaimsStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StaleProcessingSeconds = 60
	future := time.Now().Add(time.Hour)
	mgr, store := newManager(t, cfg, workflow.WithClock(func() time.Time { return future }))
	mgr.ConfigureStages(workflow.StageSet{Process: newStubStage("process", nil)})

	region := testsupport.SeedRegion(t, store, "ben-nevis")
	entry := testsupport.SeedDownloaded(t, store, cfg, region, "S2A_stuck", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		[][]float64{{1}}, [][]float64{{1}})
	if err := store.Transition(context.Background(), entry.Product.ID, catalog.StatusDownloaded, catalog.StatusProcessing, catalog.TransitionMeta{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	report, err := mgr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Reclaimed != 1 {
		t.Fatalf("expected one reclaimed product, got %d", report.Reclaimed)
	}
	if got := testsupport.MustEntry(t, store, entry.Product.ID); got.State.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", got.State.Status)
	}
}

func TestRunOnceDiscoversWithLookbackWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Discovery.LookbackDays = 10
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr, _ := newManager(t, cfg, workflow.WithClock(func() time.Time { return now }))
	disc := &stubDiscoverer{result: catalog.RecordResult{Created: 3}}
	mgr.ConfigureStages(workflow.StageSet{Discovery: disc, Download: newStubStage("download", nil)})

	report, err := mgr.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Discovered.Created != 3 {
		t.Fatalf("expected discovery counts in report, got %+v", report.Discovered)
	}
	if !disc.window.End.Equal(now) || !disc.window.Start.Equal(now.AddDate(0, 0, -10)) {
		t.Fatalf("unexpected window %+v", disc.window)
	}
}

func TestStartRunsUntilStopped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newManager(t, cfg)
	dl := newStubStage("download", nil)
	mgr.ConfigureStages(workflow.StageSet{Download: dl})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	select {
	case <-dl.ran:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for first cycle")
	}
	if !mgr.Running() {
		t.Fatal("expected manager to be running")
	}
	mgr.Stop()
	if mgr.Running() {
		t.Fatal("expected manager to be stopped")
	}
	mgr.Stop()
}

func TestStartRequiresStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newManager(t, cfg)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error without stages")
	}
}

func TestStartFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Provider.Kind = "mirror"
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(workflow.StageSet{Download: newStubStage("download", nil)})

	err := mgr.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Mirror catalog") {
		t.Fatalf("expected mirror preflight failure, got %v", err)
	}
	if mgr.Running() {
		t.Fatal("manager should not run after failed preflight")
	}
}

func TestStatusIncludesStageHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, _ := newManager(t, cfg)
	proc := newStubStage("process", nil)
	proc.health = stage.Unhealthy("process", "epsilon must be positive")
	mgr.ConfigureStages(workflow.StageSet{Download: newStubStage("download", nil), Process: proc})

	status := mgr.Status(context.Background())
	if len(status.StageHealth) != 2 {
		t.Fatalf("expected health for two stages, got %d", len(status.StageHealth))
	}
	if status.StageHealth["process"].Ready || !status.StageHealth["download"].Ready {
		t.Fatalf("unexpected health: %+v", status.StageHealth)
	}
	if status.Running || status.LastCycle != nil {
		t.Fatalf("unexpected status before any cycle: %+v", status)
	}
}
