package testsupport

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"snowline/internal/provider/mirror"
	"snowline/internal/raster"
)

// BenNevisFootprint is a scene footprint covering the default Ben Nevis region.
var BenNevisFootprint = orb.Polygon{{{-5.5, 56.5}, {-4.5, 56.5}, {-4.5, 57.1}, {-5.5, 57.1}, {-5.5, 56.5}}}

// RawImage builds the two-band green/swir uint16 raster the downloader writes.
func RawImage(t testing.TB, green, swir [][]float64) *raster.Image {
	t.Helper()

	bands := Bands(green, swir)
	georef, err := raster.GeorefFromTransform(bands.GeoTransform, bands.EPSG)
	if err != nil {
		t.Fatalf("georef: %v", err)
	}
	g := bands.Data["B03"]
	r, c := g.Dims()
	return &raster.Image{
		Width:  c,
		Height: r,
		Depth:  raster.Uint16,
		Bands:  []*mat.Dense{g, bands.Data["B11"]},
		Georef: georef,
	}
}

// PublishScene stages a scene with B03 and B11 bands in the mirror at root.
func PublishScene(t testing.TB, root, externalID string, acquired time.Time, cloud float64, green, swir [][]float64) {
	t.Helper()

	img := RawImage(t, green, swir)
	single := func(band *mat.Dense) *raster.Image {
		return &raster.Image{Width: img.Width, Height: img.Height, Depth: raster.Uint16, Bands: []*mat.Dense{band}, Georef: img.Georef}
	}
	err := mirror.Publish(root, mirror.Scene{
		ID:            externalID,
		AcquiredAt:    acquired,
		CloudCoverPct: cloud,
		Geometry:      BenNevisFootprint,
	}, map[string]*raster.Image{
		"B03": single(img.Bands[0]),
		"B11": single(img.Bands[1]),
	})
	if err != nil {
		t.Fatalf("publish scene %s: %v", externalID, err)
	}
}
