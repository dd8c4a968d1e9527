package download_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"snowline/internal/artifacts"
	"snowline/internal/batch"
	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/download"
	"snowline/internal/provider"
	"snowline/internal/raster"
	"snowline/internal/retry"
	"snowline/internal/testsupport"
)

var (
	green = [][]float64{{5000, 4000}, {1000, 800}}
	swir  = [][]float64{{1000, 3000}, {900, 0}}
)

type fixture struct {
	cfg    *config.Config
	store  *catalog.Store
	client *testsupport.FakeClient
	orch   *download.Orchestrator
	region *catalog.Region
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	client := testsupport.NewFakeClient()
	return &fixture{
		cfg:    cfg,
		store:  store,
		client: client,
		orch:   download.New(store, client, cfg, download.WithSleep(retry.NoSleep)),
		region: testsupport.SeedRegion(t, store, "ben-nevis"),
	}
}

func (f *fixture) seed(t *testing.T, externalID string) *catalog.Entry {
	t.Helper()
	entry := testsupport.SeedProduct(t, f.store, f.region.ID, externalID, time.Date(2024, 1, 15, 11, 33, 21, 0, time.UTC))
	f.client.SetBands(externalID, testsupport.Bands(green, swir))
	return entry
}

func TestDownloadProductWritesArtifact(t *testing.T) {
	f := newFixture(t)
	entry := f.seed(t, "S2A_20240115")

	outcome, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if err != nil || outcome != batch.Succeeded {
		t.Fatalf("DownloadProduct: outcome=%v err=%v", outcome, err)
	}

	got := testsupport.MustEntry(t, f.store, entry.Product.ID)
	want := artifacts.RawImagePath(f.cfg.Paths.DataDir, "ben-nevis", entry.Product.AcquiredAt, "S2A_20240115")
	if got.State.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", got.State.Status)
	}
	if got.State.LocalPath != want {
		t.Fatalf("expected path %s, got %s", want, got.State.LocalPath)
	}
	if got.State.FileSize <= 0 || got.State.Attempts != 1 || got.State.CompletedAt == nil {
		t.Fatalf("unexpected download metadata: %+v", got.State)
	}

	img, err := raster.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(img.Bands) != 2 || img.Width != 2 || img.Height != 2 || img.Depth != raster.Uint16 {
		t.Fatalf("unexpected image layout: %dx%d bands=%d depth=%d", img.Width, img.Height, len(img.Bands), img.Depth)
	}
	for y := range green {
		for x := range green[y] {
			if img.Bands[0].At(y, x) != green[y][x] || img.Bands[1].At(y, x) != swir[y][x] {
				t.Fatalf("pixel (%d,%d) mismatch", y, x)
			}
		}
	}
	if epsg := img.Georef.EPSG(); epsg != 32630 {
		t.Fatalf("expected EPSG 32630, got %d", epsg)
	}
}

func TestEightBitBandsAreStoredAsUint16(t *testing.T) {
	f := newFixture(t)
	entry := testsupport.SeedProduct(t, f.store, f.region.ID, "S2A_8bit", time.Date(2024, 2, 3, 11, 0, 0, 0, time.UTC))
	bands := testsupport.Bands([][]float64{{255, 12}, {0, 200}}, [][]float64{{3, 255}, {128, 0}})
	bands.PixelType = provider.PixelUint8
	f.client.SetBands("S2A_8bit", bands)

	outcome, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if err != nil || outcome != batch.Succeeded {
		t.Fatalf("DownloadProduct: outcome=%v err=%v", outcome, err)
	}

	got := testsupport.MustEntry(t, f.store, entry.Product.ID)
	img, err := raster.ReadFile(got.State.LocalPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if img.Depth != raster.Uint16 || len(img.Bands) != 2 {
		t.Fatalf("expected 2-band uint16 artifact, got depth=%d bands=%d", img.Depth, len(img.Bands))
	}
	if img.Bands[0].At(0, 0) != 255 || img.Bands[1].At(1, 0) != 128 {
		t.Fatalf("pixel values changed: green=%v swir=%v", img.Bands[0].At(0, 0), img.Bands[1].At(1, 0))
	}
}

func TestTransientFailuresExhaustThenResetSucceeds(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxAttempts(3))
	entry := f.seed(t, "S2B_flaky")
	transient := provider.Transient("fetch", errors.New("connection reset"))
	f.client.FailNext("S2B_flaky", transient, transient, transient)

	outcome, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if outcome != batch.Failed || !retry.IsExhausted(err) {
		t.Fatalf("expected exhausted failure, got outcome=%v err=%v", outcome, err)
	}
	if calls := f.client.Calls("S2B_flaky"); calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", calls)
	}
	failed := testsupport.MustEntry(t, f.store, entry.Product.ID)
	if failed.State.Status != catalog.StatusFailed || failed.State.LastError == "" || failed.State.Attempts != 3 {
		t.Fatalf("unexpected failed state: %+v", failed.State)
	}
	if failed.State.LocalPath != "" {
		t.Fatalf("failed product should not reference an artifact, got %s", failed.State.LocalPath)
	}

	if n, err := f.store.ResetFailed(context.Background(), entry.Product.ID); err != nil || n != 1 {
		t.Fatalf("ResetFailed: n=%d err=%v", n, err)
	}
	summary, err := f.orch.DownloadPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary after reset: %+v", summary)
	}
	if got := testsupport.MustEntry(t, f.store, entry.Product.ID); got.State.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded after reset, got %s", got.State.Status)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxAttempts(5))
	entry := f.seed(t, "S2A_denied")
	f.client.FailNext("S2A_denied", provider.ClassifyStatus("fetch", 403))

	outcome, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if outcome != batch.Failed || err == nil {
		t.Fatalf("expected failure, got outcome=%v err=%v", outcome, err)
	}
	if calls := f.client.Calls("S2A_denied"); calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
	got := testsupport.MustEntry(t, f.store, entry.Product.ID)
	if got.State.Status != catalog.StatusFailed || got.State.Attempts != 1 {
		t.Fatalf("unexpected state: %+v", got.State)
	}
}

func TestMissingBandFailsProduct(t *testing.T) {
	f := newFixture(t)
	entry := testsupport.SeedProduct(t, f.store, f.region.ID, "S2A_partial", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	bands := testsupport.Bands(green, swir)
	delete(bands.Data, "B11")
	f.client.SetBands("S2A_partial", bands)

	outcome, _ := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if outcome != batch.Failed {
		t.Fatalf("expected failure, got %v", outcome)
	}
	if calls := f.client.Calls("S2A_partial"); calls != 1 {
		t.Fatalf("malformed responses should not be retried, got %d fetches", calls)
	}
	if got := testsupport.MustEntry(t, f.store, entry.Product.ID); got.State.Status != catalog.StatusFailed {
		t.Fatalf("expected failed, got %s", got.State.Status)
	}
}

func TestDownloadPendingIsIdempotent(t *testing.T) {
	f := newFixture(t, testsupport.WithWorkers(3))
	for _, id := range []string{"S2A_a", "S2A_b", "S2A_c"} {
		f.seed(t, id)
	}

	first, err := f.orch.DownloadPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("first DownloadPending: %v", err)
	}
	if first.Attempted != 3 || first.Succeeded != 3 {
		t.Fatalf("unexpected first summary: %+v", first)
	}
	before := f.client.TotalCalls()

	second, err := f.orch.DownloadPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("second DownloadPending: %v", err)
	}
	if second.Attempted != 0 {
		t.Fatalf("expected nothing to do, got %+v", second)
	}
	if f.client.TotalCalls() != before {
		t.Fatalf("re-run fetched again: %d -> %d", before, f.client.TotalCalls())
	}
	if n := testsupport.CountFiles(t, f.cfg.Paths.DataDir); n != 3 {
		t.Fatalf("expected 3 artifacts, got %d", n)
	}
}

func TestDownloadProductSkipsHandledProducts(t *testing.T) {
	f := newFixture(t)
	entry := f.seed(t, "S2A_done")
	if _, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID); err != nil {
		t.Fatalf("DownloadProduct: %v", err)
	}

	outcome, err := f.orch.DownloadProduct(context.Background(), entry.Product.ID)
	if err != nil || outcome != batch.Skipped {
		t.Fatalf("expected skip, got outcome=%v err=%v", outcome, err)
	}
	if calls := f.client.Calls("S2A_done"); calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestConcurrentDownloadsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	entry := f.seed(t, "S2A_race")
	other := download.New(f.store, f.client, f.cfg, download.WithSleep(retry.NoSleep))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[batch.Outcome]int{}
	)
	for _, o := range []*download.Orchestrator{f.orch, other, f.orch, other} {
		wg.Add(1)
		go func(o *download.Orchestrator) {
			defer wg.Done()
			outcome, err := o.DownloadProduct(context.Background(), entry.Product.ID)
			if err != nil {
				t.Errorf("DownloadProduct: %v", err)
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}(o)
	}
	wg.Wait()

	if outcomes[batch.Succeeded] != 1 || outcomes[batch.Skipped] != 3 {
		t.Fatalf("expected one winner, got %v", outcomes)
	}
	if calls := f.client.Calls("S2A_race"); calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
}

func TestCancelledDownloadLeavesProductPending(t *testing.T) {
	f := newFixture(t)
	entry := f.seed(t, "S2A_cancel")
	f.client.FailNext("S2A_cancel", provider.Transient("fetch", errors.New("timeout")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := download.New(f.store, f.client, f.cfg, download.WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	outcome, err := orch.DownloadProduct(ctx, entry.Product.ID)
	if outcome != batch.Failed || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got outcome=%v err=%v", outcome, err)
	}
	if got := testsupport.MustEntry(t, f.store, entry.Product.ID); got.State.Status != catalog.StatusPending {
		t.Fatalf("cancelled download should stay pending, got %s", got.State.Status)
	}
}

func TestDownloadPendingReportsStoredErrors(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxAttempts(1))
	entry := f.seed(t, "S2A_broken")
	f.client.FailNext("S2A_broken", provider.Permanent("fetch", errors.New("scene withdrawn")))

	summary, err := f.orch.DownloadPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("DownloadPending: %v", err)
	}
	if summary.Failed != 1 || len(summary.Failures) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored := testsupport.MustEntry(t, f.store, entry.Product.ID).State.LastError
	if summary.Failures[0].Error != stored {
		t.Fatalf("expected failure %q, got %q", stored, summary.Failures[0].Error)
	}
}
