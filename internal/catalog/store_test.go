package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"snowline/internal/catalog"
	"snowline/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if store.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", store.Path())
	}
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	if region.ID == 0 {
		t.Fatal("expected region id to be assigned")
	}

	// Reopening an initialized database must not recreate the schema.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.RegionByName(context.Background(), "Ben Nevis"); err != nil {
		t.Fatalf("RegionByName after reopen failed: %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := catalog.Open(cfg); !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestCreateRegionRejectsDuplicateName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedRegion(t, store, "Ben Macdui")
	_, err := store.CreateRegion(context.Background(), catalog.RegionInput{
		Name: "Ben Macdui", CenterLat: 57, CenterLon: -3.6, SizeKm: 10, Geometry: "POINT(-3.6 57)",
	})
	if !errors.Is(err, catalog.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	regions, err := store.Regions(context.Background())
	if err != nil {
		t.Fatalf("Regions failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("expected one region, got %d", len(regions))
	}
}

func TestRecordProductsIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")

	acquired := time.Date(2024, 1, 15, 11, 33, 21, 0, time.UTC)
	batch := []catalog.ProductInput{
		{ExternalID: "S2A_A", AcquiredAt: acquired, CloudCoverPct: 10},
		{ExternalID: "S2A_B", AcquiredAt: acquired.Add(time.Hour), CloudCoverPct: 30, Geometry: "POINT(-5 56.8)"},
	}
	first, err := store.RecordProducts(ctx, region.ID, batch)
	if err != nil {
		t.Fatalf("RecordProducts failed: %v", err)
	}
	if first.Created != 2 || first.Skipped != 0 {
		t.Fatalf("unexpected first result %+v", first)
	}

	batch = append(batch, catalog.ProductInput{ExternalID: "S2A_C", AcquiredAt: acquired.Add(2 * time.Hour), CloudCoverPct: 0})
	second, err := store.RecordProducts(ctx, region.ID, batch)
	if err != nil {
		t.Fatalf("RecordProducts failed: %v", err)
	}
	if second.Created != 1 || second.Skipped != 2 {
		t.Fatalf("unexpected second result %+v", second)
	}

	entries, err := store.ListByStatus(ctx, catalog.StatusPending, 0)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three pending products, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.State.ProductID != entry.Product.ID || entry.RegionName != "Ben Nevis" {
			t.Fatalf("unexpected entry %+v", entry)
		}
	}
	if !entries[0].Product.AcquiredAt.Equal(acquired) {
		t.Fatalf("acquisition time not preserved: %v", entries[0].Product.AcquiredAt)
	}
}

func TestRecordProductsIsAllOrNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")

	acquired := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.RecordProducts(ctx, region.ID, []catalog.ProductInput{
		{ExternalID: "ok", AcquiredAt: acquired, CloudCoverPct: 5},
		{ExternalID: "bad", AcquiredAt: acquired, CloudCoverPct: 140},
	})
	if !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.RecordProducts(ctx, 999, []catalog.ProductInput{{ExternalID: "orphan", AcquiredAt: acquired}}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown region, got %v", err)
	}
	entries, err := store.List(ctx, catalog.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected nothing recorded, got %d entries", len(entries))
	}
}

func TestTransitionWritesMetadata(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_META", time.Now().Add(-24*time.Hour))

	completed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := store.Transition(ctx, entry.Product.ID, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{
		LocalPath:   "/data/sentinel2/Ben Nevis/2024/03/S2A_META.tif",
		FileSize:    4096,
		Attempts:    2,
		CompletedAt: completed,
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	got := testsupport.MustEntry(t, store, entry.Product.ID)
	if got.State.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", got.State.Status)
	}
	if got.State.FileSize != 4096 || got.State.Attempts != 2 || got.State.LocalPath == "" {
		t.Fatalf("metadata not recorded: %+v", got.State)
	}
	if got.State.CompletedAt == nil || !got.State.CompletedAt.Equal(completed) {
		t.Fatalf("unexpected completed_at %v", got.State.CompletedAt)
	}

	if err := store.Transition(ctx, entry.Product.ID, catalog.StatusDownloaded, catalog.StatusProcessing, catalog.TransitionMeta{}); err != nil {
		t.Fatalf("Transition to processing failed: %v", err)
	}
	if err := store.Transition(ctx, entry.Product.ID, catalog.StatusProcessing, catalog.StatusFailed, catalog.TransitionMeta{LastError: "raster io error: truncated"}); err != nil {
		t.Fatalf("Transition to failed failed: %v", err)
	}
	got = testsupport.MustEntry(t, store, entry.Product.ID)
	if got.State.LastError != "raster io error: truncated" {
		t.Fatalf("unexpected last error %q", got.State.LastError)
	}
	if got.State.Attempts != 2 {
		t.Fatalf("attempts should be kept when not supplied, got %d", got.State.Attempts)
	}
}

func TestTransitionConflictAndNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_CONFLICT", time.Now())

	err := store.Transition(ctx, entry.Product.ID, catalog.StatusDownloaded, catalog.StatusProcessing, catalog.TransitionMeta{})
	var conflict *catalog.ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Actual != catalog.StatusPending || conflict.Expected != catalog.StatusDownloaded {
		t.Fatalf("unexpected conflict detail %+v", conflict)
	}

	err = store.Transition(ctx, 424242, catalog.StatusPending, catalog.StatusFailed, catalog.TransitionMeta{LastError: "x"})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionRejectsEdgesOutsideGraph(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_EDGE", time.Now())

	invalid := [][2]catalog.Status{
		{catalog.StatusPending, catalog.StatusProcessed},
		{catalog.StatusPending, catalog.StatusProcessing},
		{catalog.StatusFailed, catalog.StatusPending},
		{catalog.StatusProcessed, catalog.StatusFailed},
		{catalog.StatusPending, "archived"},
	}
	for _, edge := range invalid {
		err := store.Transition(ctx, entry.Product.ID, edge[0], edge[1], catalog.TransitionMeta{})
		if !errors.Is(err, catalog.ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", edge[0], edge[1], err)
		}
	}
	err := store.Transition(ctx, entry.Product.ID, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{})
	if !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing path, got %v", err)
	}
}

func TestConcurrentTransitionsHaveSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_RACE", time.Now())

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := store.Transition(ctx, entry.Product.ID, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{
				LocalPath: fmt.Sprintf("/tmp/worker-%d.tif", i),
				FileSize:  int64(i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, catalog.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", workers-1, successes, conflicts)
	}
}

func TestClaimDownloadHonoursLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_CLAIM", time.Now())
	id := entry.Product.ID

	claimed, err := store.ClaimDownload(ctx, id, time.Now().Add(-time.Hour))
	if err != nil || !claimed {
		t.Fatalf("expected first claim to succeed, got %v %v", claimed, err)
	}
	claimed, err = store.ClaimDownload(ctx, id, time.Now().Add(-time.Hour))
	if err != nil || claimed {
		t.Fatalf("expected second claim to be refused, got %v %v", claimed, err)
	}
	// A cutoff in the future treats the existing claim as abandoned.
	claimed, err = store.ClaimDownload(ctx, id, time.Now().Add(time.Minute))
	if err != nil || !claimed {
		t.Fatalf("expected stale claim takeover, got %v %v", claimed, err)
	}
	if _, err := store.ClaimDownload(ctx, 777, time.Now()); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordMaskResultRejectsDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_MASK", time.Now())

	stats := catalog.MaskStats{SnowPixels: 2, TotalPixels: 4, SnowPct: 50}
	first, err := store.RecordMaskResult(ctx, entry.Product.ID, 0.4, stats, "/masks/a.tif")
	if err != nil {
		t.Fatalf("RecordMaskResult failed: %v", err)
	}
	if first.ID == 0 || first.SnowPct != 50 {
		t.Fatalf("unexpected result %+v", first)
	}

	_, err = store.RecordMaskResult(ctx, entry.Product.ID, 0.4, catalog.MaskStats{SnowPixels: 4, TotalPixels: 4, SnowPct: 100}, "")
	if !errors.Is(err, catalog.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	stored, err := store.MaskResult(ctx, entry.Product.ID, 0.4)
	if err != nil {
		t.Fatalf("MaskResult failed: %v", err)
	}
	if stored.SnowPixels != 2 || stored.MaskPath != "/masks/a.tif" {
		t.Fatalf("duplicate overwrote the first result: %+v", stored)
	}

	if _, err := store.RecordMaskResult(ctx, entry.Product.ID, 0.5, catalog.MaskStats{SnowPixels: 1, TotalPixels: 4, SnowPct: 25}, ""); err != nil {
		t.Fatalf("second threshold failed: %v", err)
	}
	results, err := store.MaskResults(ctx, entry.Product.ID)
	if err != nil {
		t.Fatalf("MaskResults failed: %v", err)
	}
	if len(results) != 2 || results[0].Threshold != 0.4 || results[1].MaskPath != "" {
		t.Fatalf("unexpected results %+v", results)
	}

	if _, err := store.RecordMaskResult(ctx, entry.Product.ID, 0.6, catalog.MaskStats{SnowPixels: 5, TotalPixels: 4, SnowPct: 125}, ""); !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.RecordMaskResult(ctx, 31337, 0.4, stats, ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MaskResult(ctx, entry.Product.ID, 0.9); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entries := testsupport.SeedProducts(t, store, region.ID, "S2A_RESET", 3)

	for _, entry := range entries[:2] {
		if err := store.Transition(ctx, entry.Product.ID, catalog.StatusPending, catalog.StatusFailed, catalog.TransitionMeta{LastError: "boom", Attempts: 3}); err != nil {
			t.Fatalf("Transition failed: %v", err)
		}
	}

	count, err := store.ResetFailed(ctx, entries[0].Product.ID, entries[2].Product.ID)
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the failed product to reset, got %d", count)
	}
	reset := testsupport.MustEntry(t, store, entries[0].Product.ID)
	if reset.State.Status != catalog.StatusPending || reset.State.LastError != "" || reset.State.Attempts != 0 {
		t.Fatalf("unexpected reset state %+v", reset.State)
	}

	count, err = store.ResetFailed(ctx)
	if err != nil {
		t.Fatalf("ResetFailed all failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the remaining failed product to reset, got %d", count)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	entry := testsupport.SeedProduct(t, store, region.ID, "S2A_STALE", time.Now())
	id := entry.Product.ID

	if err := store.Transition(ctx, id, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{LocalPath: "/x.tif"}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := store.Transition(ctx, id, catalog.StatusDownloaded, catalog.StatusProcessing, catalog.TransitionMeta{}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh processing unit should not be reclaimed, got %d", count)
	}
	count, err = store.ReclaimStaleProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one reclaimed unit, got %d", count)
	}
	if got := testsupport.MustEntry(t, store, id); got.State.Status != catalog.StatusDownloaded {
		t.Fatalf("expected downloaded after reclaim, got %s", got.State.Status)
	}
}

func TestListByStatusOrderingAndLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// Recorded out of order; sub-second offsets exercise timestamp sorting.
	inputs := []catalog.ProductInput{
		{ExternalID: "late", AcquiredAt: base.Add(2 * time.Second), CloudCoverPct: 1},
		{ExternalID: "early", AcquiredAt: base, CloudCoverPct: 1},
		{ExternalID: "middle", AcquiredAt: base.Add(500 * time.Millisecond), CloudCoverPct: 1},
	}
	if _, err := store.RecordProducts(ctx, region.ID, inputs); err != nil {
		t.Fatalf("RecordProducts failed: %v", err)
	}

	entries, err := store.ListByStatus(ctx, catalog.StatusPending, 2)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Product.ExternalID != "early" || entries[1].Product.ExternalID != "middle" {
		t.Fatalf("unexpected ordering: %v", externalIDs(entries))
	}
	if _, err := store.ListByStatus(ctx, "archived", 0); !errors.Is(err, catalog.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStatsAndSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := testsupport.SeedRegion(t, store, "Ben Nevis")

	empty, err := store.Summary(ctx, region.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if empty.Count != 0 || empty.FirstAcquired != nil {
		t.Fatalf("unexpected empty summary %+v", empty)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.RecordProducts(ctx, region.ID, []catalog.ProductInput{
		{ExternalID: "a", AcquiredAt: base, CloudCoverPct: 10},
		{ExternalID: "b", AcquiredAt: base.AddDate(0, 0, 10), CloudCoverPct: 30},
	}); err != nil {
		t.Fatalf("RecordProducts failed: %v", err)
	}
	summary, err := store.Summary(ctx, region.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Count != 2 || summary.MinCloudCover != 10 || summary.MaxCloudCover != 30 || summary.AvgCloudCover != 20 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !summary.FirstAcquired.Equal(base) || !summary.LastAcquired.Equal(base.AddDate(0, 0, 10)) {
		t.Fatalf("unexpected date range %v..%v", summary.FirstAcquired, summary.LastAcquired)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[catalog.StatusPending] != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestProductsAreImmutable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	region := testsupport.SeedRegion(t, store, "Ben Nevis")
	testsupport.SeedProduct(t, store, region.ID, "S2A_FROZEN", time.Now())
	store.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE products SET cloud_cover_pct = 99"); err == nil {
		t.Fatal("expected products update to be rejected")
	}
	if _, err := db.Exec("UPDATE download_states SET status = 'archived'"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

func externalIDs(entries []*catalog.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Product.ExternalID)
	}
	return ids
}
