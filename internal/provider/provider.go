// Package provider defines the boundary to the remote imagery catalog: a
// search over scenes and a fetch of individual band rasters. Implementations
// classify every failure as transient (retry later) or permanent (give up)
// using the markers in package services.
package provider

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"snowline/internal/services"
)

// PixelType describes the sample format of fetched bands.
type PixelType string

const (
	PixelUint16 PixelType = "uint16"
	PixelUint8  PixelType = "uint8"
)

// TimeRange is a half-open acquisition window [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Candidate is one scene returned by a search.
type Candidate struct {
	ExternalID    string
	AcquiredAt    time.Time
	CloudCoverPct float64
	Geometry      orb.Geometry
}

// Bands holds the rasters returned by a fetch, keyed by band id. All bands
// share one grid described by GeoTransform and EPSG.
type Bands struct {
	Data      map[string]*mat.Dense
	PixelType PixelType
	// GeoTransform is origin x, pixel width, row rotation, origin y,
	// column rotation, pixel height (negative for north-up).
	GeoTransform [6]float64
	EPSG         int
}

// Client is the catalog collaborator consumed by discovery and download.
type Client interface {
	// SearchProducts lazily yields scenes intersecting bbox inside the window
	// whose cloud cover does not exceed maxCloudCoverPct.
	SearchProducts(ctx context.Context, bbox orb.Bound, window TimeRange, maxCloudCoverPct float64) iter.Seq2[Candidate, error]
	// FetchRasterBands retrieves the named bands of a scene clipped to bbox.
	FetchRasterBands(ctx context.Context, externalID string, bbox orb.Bound, bandIDs []string, resolutionMeters float64) (*Bands, error)
}

// Transient marks err as retryable.
func Transient(op string, err error) error {
	return services.Wrap(services.ErrTransient, "provider", op, "", err)
}

// Permanent marks err as not worth retrying.
func Permanent(op string, err error) error {
	return services.Wrap(services.ErrPermanent, "provider", op, "", err)
}

// ClassifyStatus maps an HTTP status from a catalog endpoint onto the error
// taxonomy. It returns nil for success codes.
func ClassifyStatus(op string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return Transient(op, fmt.Errorf("http %d", code))
	case code >= 500:
		return Transient(op, fmt.Errorf("http %d", code))
	default:
		// 4xx: bad credentials, unknown scene, malformed request.
		return Permanent(op, fmt.Errorf("http %d", code))
	}
}
