package testsupport

import (
	"context"
	"testing"
	"time"

	"snowline/internal/artifacts"
	"snowline/internal/catalog"
	"snowline/internal/config"
	"snowline/internal/raster"
)

// SeedDownloaded records a product, writes its raw raster where the
// downloader would and moves it to downloaded.
func SeedDownloaded(t testing.TB, store *catalog.Store, cfg *config.Config, region *catalog.Region, externalID string, acquired time.Time, green, swir [][]float64) *catalog.Entry {
	t.Helper()

	entry := SeedProduct(t, store, region.ID, externalID, acquired)
	path := artifacts.RawImagePath(cfg.Paths.DataDir, region.Name, acquired, externalID)
	size, err := artifacts.WriteRaster(path, RawImage(t, green, swir), raster.EncodeOptions{
		Compression: raster.CompressionDeflate,
		Predictor:   true,
	})
	if err != nil {
		t.Fatalf("write raw raster: %v", err)
	}
	err = store.Transition(context.Background(), entry.Product.ID, catalog.StatusPending, catalog.StatusDownloaded, catalog.TransitionMeta{
		LocalPath: path,
		FileSize:  size,
		Attempts:  1,
	})
	if err != nil {
		t.Fatalf("transition to downloaded: %v", err)
	}
	return MustEntry(t, store, entry.Product.ID)
}
