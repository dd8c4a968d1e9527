package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"snowline/internal/catalog"
	"snowline/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedRegion creates a small region centered on Ben Nevis under the given name.
func SeedRegion(t testing.TB, store *catalog.Store, name string) *catalog.Region {
	t.Helper()

	region, err := store.CreateRegion(context.Background(), catalog.RegionInput{
		Name:      name,
		CenterLat: 56.7969,
		CenterLon: -5.0036,
		SizeKm:    10,
		Geometry:  "POLYGON((-5.08 56.75,-4.92 56.75,-4.92 56.84,-5.08 56.84,-5.08 56.75))",
	})
	if err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	return region
}

// SeedProduct records one pending product and returns its entry.
func SeedProduct(t testing.TB, store *catalog.Store, regionID int64, externalID string, acquiredAt time.Time) *catalog.Entry {
	t.Helper()

	ctx := context.Background()
	res, err := store.RecordProducts(ctx, regionID, []catalog.ProductInput{{
		ExternalID:    externalID,
		AcquiredAt:    acquiredAt,
		CloudCoverPct: 12.5,
	}})
	if err != nil {
		t.Fatalf("RecordProducts: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected product %s to be created, got %+v", externalID, res)
	}
	entry, err := store.EntryByExternalID(ctx, externalID)
	if err != nil {
		t.Fatalf("EntryByExternalID: %v", err)
	}
	return entry
}

// SeedProducts records n pending products named <prefix>-<i>, one day apart.
func SeedProducts(t testing.TB, store *catalog.Store, regionID int64, prefix string, n int) []*catalog.Entry {
	t.Helper()

	start := time.Date(2024, 1, 15, 11, 33, 21, 0, time.UTC)
	entries := make([]*catalog.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, SeedProduct(t, store, regionID, fmt.Sprintf("%s-%d", prefix, i), start.AddDate(0, 0, i)))
	}
	return entries
}

// MustEntry reloads a product's entry.
func MustEntry(t testing.TB, store *catalog.Store, productID int64) *catalog.Entry {
	t.Helper()

	entry, err := store.Entry(context.Background(), productID)
	if err != nil {
		t.Fatalf("Entry(%d): %v", productID, err)
	}
	return entry
}
