package raster

import (
	"fmt"

	"snowline/internal/services"
)

// GeoTIFF tag numbers.
const (
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

// GeoKey ids and values used when building a directory from an EPSG code.
const (
	geoKeyModelType       = 1024
	geoKeyRasterType      = 1025
	geoKeyGeographicType  = 2048
	geoKeyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
)

// Georef holds the GeoTIFF georeferencing tags exactly as stored. A decoded
// Georef assigned to a new Image is written back byte for byte.
type Georef struct {
	PixelScale      []float64
	Tiepoint        []float64
	GeoKeyDirectory []uint16
	GeoDoubleParams []float64
	GeoASCIIParams  string
}

// Empty reports whether no georeferencing is present.
func (g Georef) Empty() bool {
	return len(g.PixelScale) == 0 && len(g.Tiepoint) == 0 && len(g.GeoKeyDirectory) == 0
}

// GeorefFromTransform builds tags for a north-up grid. The transform uses the
// usual affine order: origin x, pixel width, row rotation, origin y, column
// rotation, pixel height. Rotated grids cannot be expressed with a tiepoint
// and scale and are rejected.
func GeorefFromTransform(gt [6]float64, epsg int) (Georef, error) {
	if gt[2] != 0 || gt[4] != 0 {
		return Georef{}, services.Wrap(services.ErrValidation, "raster", "georef", "rotated grids are not supported", nil)
	}
	if gt[1] <= 0 || gt[5] == 0 {
		return Georef{}, services.Wrap(services.ErrValidation, "raster", "georef",
			fmt.Sprintf("invalid pixel size %gx%g", gt[1], gt[5]), nil)
	}
	g := Georef{
		PixelScale: []float64{gt[1], abs(gt[5]), 0},
		Tiepoint:   []float64{0, 0, 0, gt[0], gt[3], 0},
	}
	if epsg > 0 {
		modelType, crsKey := uint16(modelTypeProjected), uint16(geoKeyProjectedCSType)
		if epsg >= 4000 && epsg < 5000 {
			modelType, crsKey = modelTypeGeographic, geoKeyGeographicType
		}
		// Header: version 1.1.0 with three keys, then sorted key entries.
		g.GeoKeyDirectory = []uint16{
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, modelType,
			geoKeyRasterType, 0, 1, rasterPixelIsArea,
			crsKey, 0, 1, uint16(epsg),
		}
	}
	return g, nil
}

// Transform returns the affine transform described by the tiepoint and
// pixel scale, or false when either is missing.
func (g Georef) Transform() ([6]float64, bool) {
	if len(g.PixelScale) < 2 || len(g.Tiepoint) < 6 {
		return [6]float64{}, false
	}
	sx, sy := g.PixelScale[0], g.PixelScale[1]
	i, j := g.Tiepoint[0], g.Tiepoint[1]
	x, y := g.Tiepoint[3], g.Tiepoint[4]
	return [6]float64{x - i*sx, sx, 0, y + j*sy, 0, -sy}, true
}

// EPSG returns the projected or geographic CRS code stored inline in the key
// directory, or zero.
func (g Georef) EPSG() int {
	keys := g.GeoKeyDirectory
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for k := 0; k < n; k++ {
		base := 4 + k*4
		if base+3 >= len(keys) {
			break
		}
		id, location, value := keys[base], keys[base+1], keys[base+3]
		if location != 0 {
			continue
		}
		if id == geoKeyProjectedCSType || id == geoKeyGeographicType {
			return int(value)
		}
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
