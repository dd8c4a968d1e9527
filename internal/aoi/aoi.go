// Package aoi derives region footprints and seeds configured regions into
// the catalog.
package aoi

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"snowline/internal/catalog"
	"snowline/internal/config"
)

// KmPerDegree is the length of one degree of latitude.
const KmPerDegree = 111.32

// BoundAround returns the square of side sizeKm centered on lat/lon. The
// longitude span widens with latitude and covers every longitude once it
// reaches half the globe; the result is clamped to valid coordinates.
func BoundAround(lat, lon, sizeKm float64) orb.Bound {
	half := sizeKm / 2
	dLat := half / KmPerDegree
	cos := math.Cos(lat * math.Pi / 180)
	minLon, maxLon := -180.0, 180.0
	if cos > 1e-9 {
		if dLon := half / (KmPerDegree * cos); dLon < 180 {
			minLon, maxLon = math.Max(lon-dLon, -180), math.Min(lon+dLon, 180)
		}
	}
	return orb.Bound{
		Min: orb.Point{minLon, math.Max(lat-dLat, -90)},
		Max: orb.Point{maxLon, math.Min(lat+dLat, 90)},
	}
}

// WKT renders a bound as a closed polygon.
func WKT(b orb.Bound) string {
	return wkt.MarshalString(b.ToPolygon())
}

// ParseBound returns the bounding box of a WKT geometry.
func ParseBound(geometry string) (orb.Bound, error) {
	g, err := wkt.Unmarshal(geometry)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("parse geometry: %w", err)
	}
	return g.Bound(), nil
}

// RegionBound returns a stored region's footprint, falling back to its
// center and size when the stored geometry cannot be parsed.
func RegionBound(r *catalog.Region) orb.Bound {
	if b, err := ParseBound(r.Geometry); err == nil && !b.IsEmpty() {
		return b
	}
	return BoundAround(r.CenterLat, r.CenterLon, r.SizeKm)
}

// SyncResult counts regions touched by Sync.
type SyncResult struct {
	Created  []string
	Existing []string
}

// Sync creates every configured region missing from the catalog. Regions
// already present are left untouched; regions are immutable once stored.
func Sync(ctx context.Context, store catalogRegions, regions []config.Region) (SyncResult, error) {
	var result SyncResult
	for _, r := range regions {
		bound := BoundAround(r.CenterLat, r.CenterLon, r.SizeKm)
		_, err := store.CreateRegion(ctx, catalog.RegionInput{
			Name:      r.Name,
			CenterLat: r.CenterLat,
			CenterLon: r.CenterLon,
			SizeKm:    r.SizeKm,
			Geometry:  WKT(bound),
		})
		switch {
		case err == nil:
			result.Created = append(result.Created, r.Name)
		case errors.Is(err, catalog.ErrDuplicate):
			result.Existing = append(result.Existing, r.Name)
		default:
			return result, fmt.Errorf("create region %q: %w", r.Name, err)
		}
	}
	return result, nil
}

type catalogRegions interface {
	CreateRegion(ctx context.Context, in catalog.RegionInput) (*catalog.Region, error)
}
