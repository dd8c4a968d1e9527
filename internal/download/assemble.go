package download

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"snowline/internal/provider"
	"snowline/internal/raster"
)

// Raw rasters hold smooth reflectance values; the predictor pays for itself.
var rawEncodeOptions = raster.EncodeOptions{
	Compression: raster.CompressionDeflate,
	Predictor:   true,
}

// assemble stacks the green and SWIR bands, in that order, into one
// georeferenced uint16 image. 8-bit sources are widened so every raw
// artifact has the same layout. Malformed fetch results are permanent failures:
// fetching the same scene again will not fix them.
func assemble(bands *provider.Bands, green, swir string) (*raster.Image, error) {
	if bands == nil {
		return nil, provider.Permanent("assemble", fmt.Errorf("no bands returned"))
	}
	ordered := make([]*mat.Dense, 0, 2)
	for _, id := range []string{green, swir} {
		band, ok := bands.Data[id]
		if !ok || band == nil {
			return nil, provider.Permanent("assemble", fmt.Errorf("band %s missing from response", id))
		}
		ordered = append(ordered, band)
	}
	rows, cols := ordered[0].Dims()
	if r, c := ordered[1].Dims(); r != rows || c != cols {
		return nil, provider.Permanent("assemble",
			fmt.Errorf("band %s is %dx%d, band %s is %dx%d", green, rows, cols, swir, r, c))
	}

	georef, err := raster.GeorefFromTransform(bands.GeoTransform, bands.EPSG)
	if err != nil {
		return nil, provider.Permanent("assemble", err)
	}
	return &raster.Image{
		Width:  cols,
		Height: rows,
		Depth:  raster.Uint16,
		Bands:  ordered,
		Georef: georef,
	}, nil
}
