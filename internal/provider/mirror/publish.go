package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"snowline/internal/fileutil"
	"snowline/internal/raster"
)

// Scene describes a product added to a mirror.
type Scene struct {
	ID            string
	AcquiredAt    time.Time
	CloudCoverPct float64
	Geometry      orb.Geometry
}

// Publish stores the band rasters of scene under root and adds or replaces
// its feature in the index. Bands are written before the index so a
// concurrent search never lists a scene whose files are missing.
func Publish(root string, scene Scene, bands map[string]*raster.Image) error {
	if scene.ID == "" {
		return errors.New("scene id is required")
	}
	if scene.Geometry == nil {
		return fmt.Errorf("scene %s has no footprint", scene.ID)
	}
	for band, img := range bands {
		path := filepath.Join(root, scene.ID, band+".tif")
		if _, err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
			return raster.Encode(w, img, raster.EncodeOptions{Predictor: img.Depth == raster.Uint16})
		}); err != nil {
			return fmt.Errorf("publish band %s: %w", band, err)
		}
	}

	indexPath := filepath.Join(root, IndexFile)
	collection := geojson.NewFeatureCollection()
	data, err := os.ReadFile(indexPath)
	switch {
	case err == nil:
		if collection, err = geojson.UnmarshalFeatureCollection(data); err != nil {
			return fmt.Errorf("parse index: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("read index: %w", err)
	}

	feature := geojson.NewFeature(scene.Geometry)
	feature.Properties[propID] = scene.ID
	feature.Properties[propDatetime] = scene.AcquiredAt.UTC().Format(time.RFC3339)
	feature.Properties[propCloudCover] = scene.CloudCoverPct

	replaced := false
	for i, existing := range collection.Features {
		if existing.Properties.MustString(propID, "") == scene.ID {
			collection.Features[i] = feature
			replaced = true
		}
	}
	if !replaced {
		collection.Append(feature)
	}

	encoded, err := collection.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if _, err := fileutil.WriteAtomic(indexPath, 0o644, func(w io.Writer) error {
		_, err := w.Write(encoded)
		return err
	}); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
