// Package artifacts owns the on-disk layout of downloaded rasters and snow
// masks. Paths are a pure function of region, acquisition month, product and
// threshold, so concurrent workers always agree on where a file lives.
package artifacts

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"snowline/internal/fileutil"
	"snowline/internal/raster"
	"snowline/internal/services"
)

const (
	rawDir  = "sentinel2"
	maskDir = "snow_masks"
	ext     = ".tif"
)

// RawImagePath returns <root>/sentinel2/<region>/<YYYY>/<MM>/<externalID>.tif.
func RawImagePath(root, region string, acquired time.Time, externalID string) string {
	return filepath.Join(monthDir(root, rawDir, region, acquired), externalID+ext)
}

// MaskPath returns <root>/snow_masks/<region>/<YYYY>/<MM>/<externalID>_ndsi<threshold>.tif.
func MaskPath(root, region string, acquired time.Time, externalID string, threshold float64) string {
	name := externalID + "_ndsi" + FormatThreshold(threshold) + ext
	return filepath.Join(monthDir(root, maskDir, region, acquired), name)
}

func monthDir(root, kind, region string, acquired time.Time) string {
	acquired = acquired.UTC()
	return filepath.Join(root, kind, region,
		fmt.Sprintf("%04d", acquired.Year()), fmt.Sprintf("%02d", int(acquired.Month())))
}

// FormatThreshold renders a threshold with the fewest digits that round-trip,
// always keeping a decimal point: 0.4, 0.45, 1.0.
func FormatThreshold(threshold float64) string {
	s := strconv.FormatFloat(threshold, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// WriteRaster encodes img to path atomically and returns the file size.
func WriteRaster(path string, img *raster.Image, opts raster.EncodeOptions) (int64, error) {
	size, err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return raster.Encode(w, img, opts)
	})
	if err != nil {
		return 0, services.Wrap(services.ErrIO, "artifacts", "write", path, err)
	}
	return size, nil
}
