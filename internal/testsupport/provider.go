package testsupport

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"snowline/internal/provider"
)

// FakeClient is a scripted provider.Client. Each FetchRasterBands call for an
// external id consumes the next scripted error; once the script is exhausted
// the configured bands are returned.
type FakeClient struct {
	mu         sync.Mutex
	bands      map[string]*provider.Bands
	script     map[string][]error
	calls      map[string]int
	candidates []provider.Candidate
	searchErr  error
}

// NewFakeClient returns an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		bands:  make(map[string]*provider.Bands),
		script: make(map[string][]error),
		calls:  make(map[string]int),
	}
}

// SetBands registers the bands returned for externalID.
func (f *FakeClient) SetBands(externalID string, bands *provider.Bands) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bands[externalID] = bands
}

// FailNext queues errors returned by the next fetches of externalID.
func (f *FakeClient) FailNext(externalID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[externalID] = append(f.script[externalID], errs...)
}

// SetCandidates sets the search results; searchErr, if non-nil, is yielded
// after them.
func (f *FakeClient) SetCandidates(candidates []provider.Candidate, searchErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append([]provider.Candidate(nil), candidates...)
	f.searchErr = searchErr
}

// Calls returns how many fetches were made for externalID.
func (f *FakeClient) Calls(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[externalID]
}

// TotalCalls returns the number of fetches across all products.
func (f *FakeClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeClient) SearchProducts(ctx context.Context, bbox orb.Bound, window provider.TimeRange, maxCloud float64) iter.Seq2[provider.Candidate, error] {
	f.mu.Lock()
	candidates := append([]provider.Candidate(nil), f.candidates...)
	searchErr := f.searchErr
	f.mu.Unlock()

	return func(yield func(provider.Candidate, error) bool) {
		for _, c := range candidates {
			if c.CloudCoverPct > maxCloud || !window.Contains(c.AcquiredAt) {
				continue
			}
			if c.Geometry != nil && !c.Geometry.Bound().Intersects(bbox) {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
		if searchErr != nil {
			yield(provider.Candidate{}, searchErr)
		}
	}
}

func (f *FakeClient) FetchRasterBands(ctx context.Context, externalID string, _ orb.Bound, bandIDs []string, _ float64) (*provider.Bands, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[externalID]++
	if queued := f.script[externalID]; len(queued) > 0 {
		f.script[externalID] = queued[1:]
		return nil, queued[0]
	}
	bands, ok := f.bands[externalID]
	if !ok {
		return nil, provider.Permanent("fetch", fmt.Errorf("unknown product %s", externalID))
	}
	out := &provider.Bands{
		Data:         make(map[string]*mat.Dense, len(bandIDs)),
		PixelType:    bands.PixelType,
		GeoTransform: bands.GeoTransform,
		EPSG:         bands.EPSG,
	}
	for _, id := range bandIDs {
		if band, ok := bands.Data[id]; ok {
			out.Data[id] = mat.DenseCopyOf(band)
		}
	}
	return out, nil
}

// Bands builds a uint16 band set on a 10 m UTM 30N grid.
func Bands(green, swir [][]float64) *provider.Bands {
	return &provider.Bands{
		Data: map[string]*mat.Dense{
			"B03": denseFromRows(green),
			"B11": denseFromRows(swir),
		},
		PixelType:    provider.PixelUint16,
		GeoTransform: [6]float64{399960, 10, 0, 6300000, 0, -10},
		EPSG:         32630,
	}
}

func denseFromRows(rows [][]float64) *mat.Dense {
	r := len(rows)
	c := len(rows[0])
	data := make([]float64, 0, r*c)
	for _, row := range rows {
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data)
}

var _ provider.Client = (*FakeClient)(nil)
