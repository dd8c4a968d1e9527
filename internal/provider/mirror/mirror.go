// Package mirror implements provider.Client over a directory that mirrors a
// remote catalog:
//
//	<root>/index.geojson         FeatureCollection, one feature per scene
//	<root>/<externalID>/<band>.tif  single-band GeoTIFF per band
//
// Feature properties are "id", "datetime" (RFC 3339) and "cloud_cover"
// (percent). It lets the pipeline run against pre-staged imagery and is the
// catalog used by integration tests.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/mat"

	"snowline/internal/logging"
	"snowline/internal/provider"
	"snowline/internal/raster"
)

// IndexFile is the scene index inside the mirror root.
const IndexFile = "index.geojson"

const (
	propID         = "id"
	propDatetime   = "datetime"
	propCloudCover = "cloud_cover"
)

// Client serves searches and band fetches from a mirror directory.
type Client struct {
	root   string
	logger *slog.Logger
}

// New returns a client rooted at dir.
func New(dir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{root: dir, logger: logging.NewComponentLogger(logger, "mirror")}
}

// Root returns the mirror directory.
func (c *Client) Root() string {
	return c.root
}

// SearchProducts reads the index and yields matching scenes ordered by
// acquisition time. A missing or unreadable index is transient; a malformed
// one is permanent.
func (c *Client) SearchProducts(ctx context.Context, bbox orb.Bound, window provider.TimeRange, maxCloudCoverPct float64) iter.Seq2[provider.Candidate, error] {
	return func(yield func(provider.Candidate, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(provider.Candidate{}, err)
			return
		}
		candidates, err := c.loadIndex()
		if err != nil {
			yield(provider.Candidate{}, err)
			return
		}
		matched := 0
		for _, candidate := range candidates {
			if candidate.CloudCoverPct > maxCloudCoverPct || !window.Contains(candidate.AcquiredAt) {
				continue
			}
			if candidate.Geometry != nil && !candidate.Geometry.Bound().Intersects(bbox) {
				continue
			}
			matched++
			if !yield(candidate, nil) {
				return
			}
		}
		c.logger.Debug("mirror search complete",
			logging.Int("indexed", len(candidates)),
			logging.Int("matched", matched),
		)
	}
}

func (c *Client) loadIndex() ([]provider.Candidate, error) {
	data, err := os.ReadFile(filepath.Join(c.root, IndexFile))
	if err != nil {
		return nil, provider.Transient("search", fmt.Errorf("read index: %w", err))
	}
	collection, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, provider.Permanent("search", fmt.Errorf("parse index: %w", err))
	}

	candidates := make([]provider.Candidate, 0, len(collection.Features))
	for i, feature := range collection.Features {
		candidate, err := candidateFromFeature(feature)
		if err != nil {
			return nil, provider.Permanent("search", fmt.Errorf("feature %d: %w", i, err))
		}
		candidates = append(candidates, candidate)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].AcquiredAt.Before(candidates[j].AcquiredAt)
	})
	return candidates, nil
}

func candidateFromFeature(feature *geojson.Feature) (provider.Candidate, error) {
	props := feature.Properties
	id := strings.TrimSpace(props.MustString(propID, ""))
	if id == "" {
		if fid, ok := feature.ID.(string); ok {
			id = strings.TrimSpace(fid)
		}
	}
	if id == "" {
		return provider.Candidate{}, errors.New("missing id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return provider.Candidate{}, fmt.Errorf("invalid id %q", id)
	}
	acquired, err := time.Parse(time.RFC3339Nano, props.MustString(propDatetime, ""))
	if err != nil {
		return provider.Candidate{}, fmt.Errorf("%s: datetime: %w", id, err)
	}
	cloud := props.MustFloat64(propCloudCover, math.NaN())
	if math.IsNaN(cloud) || cloud < 0 || cloud > 100 {
		return provider.Candidate{}, fmt.Errorf("%s: cloud_cover must be within 0..100", id)
	}
	return provider.Candidate{
		ExternalID:    id,
		AcquiredAt:    acquired.UTC(),
		CloudCoverPct: cloud,
		Geometry:      feature.Geometry,
	}, nil
}

// FetchRasterBands reads the requested bands of a scene. Rasters stored in a
// geographic CRS are cropped to bbox; projected rasters are returned whole
// because no reprojection is performed. Resolution is not resampled either:
// the mirror serves whatever grid it holds.
func (c *Client) FetchRasterBands(ctx context.Context, externalID string, bbox orb.Bound, bandIDs []string, resolutionMeters float64) (*provider.Bands, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(bandIDs) == 0 {
		return nil, provider.Permanent("fetch", errors.New("no bands requested"))
	}
	dir := filepath.Join(c.root, externalID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil, provider.Permanent("fetch", fmt.Errorf("product %s not in mirror", externalID))
		}
		return nil, provider.Transient("fetch", err)
	}

	out := &provider.Bands{Data: make(map[string]*mat.Dense, len(bandIDs))}
	var grid *raster.Image
	for _, band := range bandIDs {
		path := filepath.Join(dir, band+".tif")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, provider.Permanent("fetch", fmt.Errorf("product %s has no band %s", externalID, band))
		}
		img, err := raster.ReadFile(path)
		if err != nil {
			return nil, provider.Transient("fetch", err)
		}
		if len(img.Bands) != 1 {
			return nil, provider.Permanent("fetch", fmt.Errorf("%s: expected one band, found %d", path, len(img.Bands)))
		}
		if grid == nil {
			grid = img
		} else if img.Width != grid.Width || img.Height != grid.Height {
			return nil, provider.Permanent("fetch", fmt.Errorf("%s: band grids differ", externalID))
		}
		out.Data[band] = img.Bands[0]
	}

	out.PixelType = provider.PixelUint16
	if grid.Depth == raster.Uint8 {
		out.PixelType = provider.PixelUint8
	}
	out.EPSG = grid.Georef.EPSG()
	gt, ok := grid.Georef.Transform()
	if !ok {
		return nil, provider.Permanent("fetch", fmt.Errorf("%s: band has no georeferencing", externalID))
	}
	out.GeoTransform = gt

	if out.EPSG == 4326 && !bbox.IsZero() {
		if err := crop(out, grid.Width, grid.Height, bbox); err != nil {
			return nil, provider.Permanent("fetch", fmt.Errorf("%s: %w", externalID, err))
		}
	}
	c.logger.Debug("mirror fetch complete",
		logging.String(logging.FieldExternalID, externalID),
		logging.Int("bands", len(out.Data)),
		logging.Float64("requested_resolution_m", resolutionMeters),
	)
	return out, nil
}

// crop narrows every band to the pixels overlapping bbox and shifts the
// transform origin accordingly.
func crop(bands *provider.Bands, width, height int, bbox orb.Bound) error {
	gt := bands.GeoTransform
	col0 := int(math.Floor((bbox.Min.X() - gt[0]) / gt[1]))
	col1 := int(math.Ceil((bbox.Max.X() - gt[0]) / gt[1]))
	row0 := int(math.Floor((bbox.Max.Y() - gt[3]) / gt[5]))
	row1 := int(math.Ceil((bbox.Min.Y() - gt[3]) / gt[5]))
	col0, row0 = max(col0, 0), max(row0, 0)
	col1, row1 = min(col1, width), min(row1, height)
	if col0 >= col1 || row0 >= row1 {
		return errors.New("scene does not cover the requested area")
	}
	if col0 == 0 && row0 == 0 && col1 == width && row1 == height {
		return nil
	}
	for id, band := range bands.Data {
		bands.Data[id] = mat.DenseCopyOf(band.Slice(row0, row1, col0, col1))
	}
	bands.GeoTransform[0] = gt[0] + float64(col0)*gt[1]
	bands.GeoTransform[3] = gt[3] + float64(row0)*gt[5]
	return nil
}

var _ provider.Client = (*Client)(nil)
