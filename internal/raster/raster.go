// Package raster reads and writes the small single-image GeoTIFF files the
// pipeline stores: two-band uint16 reflectance rasters and one-band uint8
// snow masks. Only strip-organized, chunky (pixel interleaved) unsigned
// images are supported. GeoTIFF georeferencing tags are carried through
// unmodified so a derived raster can reuse its source's grid exactly.
package raster

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"snowline/internal/services"
)

// Depth is the bit depth of every sample in an image.
type Depth int

const (
	Uint8  Depth = 8
	Uint16 Depth = 16
)

func (d Depth) max() float64 {
	switch d {
	case Uint8:
		return 0xff
	case Uint16:
		return 0xffff
	default:
		return 0
	}
}

// Compression selects how strip data is stored.
type Compression uint16

const (
	CompressionNone    Compression = 1
	CompressionDeflate Compression = 8
	// compressionDeflateLegacy is the pre-TIFF 6 code for the same zlib stream.
	compressionDeflateLegacy Compression = 32946
)

// Image is a raster with one matrix per band. Each band has Height rows and
// Width columns; values must be whole numbers within the range of Depth.
type Image struct {
	Width  int
	Height int
	Depth  Depth
	Bands  []*mat.Dense
	Georef Georef
}

// EncodeOptions tunes Encode. The zero value writes Deflate without a predictor.
type EncodeOptions struct {
	Compression Compression
	// Predictor enables horizontal differencing, which shrinks smooth
	// reflectance rasters considerably under Deflate.
	Predictor bool
}

func (img *Image) validate() error {
	if img == nil {
		return services.Wrap(services.ErrValidation, "raster", "encode", "nil image", nil)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return services.Wrap(services.ErrValidation, "raster", "encode",
			fmt.Sprintf("invalid dimensions %dx%d", img.Width, img.Height), nil)
	}
	if img.Depth != Uint8 && img.Depth != Uint16 {
		return services.Wrap(services.ErrValidation, "raster", "encode",
			fmt.Sprintf("unsupported depth %d", img.Depth), nil)
	}
	if len(img.Bands) == 0 {
		return services.Wrap(services.ErrValidation, "raster", "encode", "image has no bands", nil)
	}
	for i, band := range img.Bands {
		if band == nil {
			return services.Wrap(services.ErrValidation, "raster", "encode", fmt.Sprintf("band %d is nil", i), nil)
		}
		if r, c := band.Dims(); r != img.Height || c != img.Width {
			return services.Wrap(services.ErrShapeMismatch, "raster", "encode",
				fmt.Sprintf("band %d is %dx%d, image is %dx%d", i, r, c, img.Height, img.Width), nil)
		}
	}
	return nil
}

// ReadFile decodes the GeoTIFF at path. Every failure, including a missing
// file, is reported as services.ErrIO.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "raster", "open", path, err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
