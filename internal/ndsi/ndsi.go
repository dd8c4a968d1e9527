// Package ndsi computes the Normalized Difference Snow Index from a green and
// a shortwave-infrared band and classifies pixels as snow against a
// threshold.
//
//	NDSI = (green - swir) / (green + swir + epsilon)
//
// For non-negative reflectances the index lies in [-1, 1]. Epsilon keeps
// all-dark pixels at zero instead of dividing by zero.
package ndsi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"snowline/internal/services"
)

const (
	// DefaultEpsilon is added to the denominator of every pixel.
	DefaultEpsilon = 1e-8
	// DefaultThreshold is the conventional NDSI snow cut-off.
	DefaultThreshold = 0.4
)

// Mask is a binary classification with one byte per pixel in row-major order.
// Snow pixels are 1, everything else 0.
type Mask struct {
	Rows int
	Cols int
	Data []uint8
}

// At returns the value at row i, column j.
func (m Mask) At(i, j int) uint8 {
	return m.Data[i*m.Cols+j]
}

// Dense returns the mask as a matrix for raster encoding.
func (m Mask) Dense() *mat.Dense {
	values := make([]float64, len(m.Data))
	for i, v := range m.Data {
		values[i] = float64(v)
	}
	return mat.NewDense(m.Rows, m.Cols, values)
}

// Stats summarizes a mask.
type Stats struct {
	SnowPixels  int64
	TotalPixels int64
	SnowPct     float64
}

// Summary describes the distribution of index values in a scene.
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// ComputeIndex returns the per-pixel NDSI of green and swir.
func ComputeIndex(green, swir *mat.Dense, epsilon float64) (*mat.Dense, error) {
	if epsilon <= 0 || math.IsNaN(epsilon) || math.IsInf(epsilon, 0) {
		return nil, services.Wrap(services.ErrValidation, "ndsi", "index",
			fmt.Sprintf("epsilon must be positive, got %v", epsilon), nil)
	}
	if green == nil || swir == nil || green.IsEmpty() || swir.IsEmpty() {
		return nil, services.Wrap(services.ErrEmptyRaster, "ndsi", "index", "band has no pixels", nil)
	}
	gr, gc := green.Dims()
	sr, sc := swir.Dims()
	if gr != sr || gc != sc {
		return nil, services.Wrap(services.ErrShapeMismatch, "ndsi", "index",
			fmt.Sprintf("green is %dx%d, swir is %dx%d", gr, gc, sr, sc), nil)
	}

	var diff, sum, index mat.Dense
	diff.Sub(green, swir)
	sum.Add(green, swir)
	sum.Apply(func(_, _ int, v float64) float64 { return v + epsilon }, &sum)
	index.DivElem(&diff, &sum)
	return &index, nil
}

// ApplyThreshold marks pixels whose index is at or above threshold. NaN
// pixels are never snow.
func ApplyThreshold(index *mat.Dense, threshold float64) Mask {
	if index == nil || index.IsEmpty() {
		return Mask{}
	}
	rows, cols := index.Dims()
	mask := Mask{Rows: rows, Cols: cols, Data: make([]uint8, rows*cols)}
	for i := 0; i < rows; i++ {
		for j, v := range index.RawRowView(i) {
			if v >= threshold {
				mask.Data[i*cols+j] = 1
			}
		}
	}
	return mask
}

// ComputeStatistics counts snow pixels in mask.
func ComputeStatistics(mask Mask) (Stats, error) {
	total := int64(len(mask.Data))
	if total == 0 {
		return Stats{}, services.Wrap(services.ErrEmptyRaster, "ndsi", "statistics", "mask has no pixels", nil)
	}
	var snow int64
	for _, v := range mask.Data {
		if v != 0 {
			snow++
		}
	}
	return Stats{
		SnowPixels:  snow,
		TotalPixels: total,
		SnowPct:     100 * float64(snow) / float64(total),
	}, nil
}

// Summarize reports the range, mean and spread of index values, ignoring NaN.
func Summarize(index *mat.Dense) Summary {
	if index == nil || index.IsEmpty() {
		return Summary{}
	}
	rows, cols := index.Dims()
	values := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for _, v := range index.RawRowView(i) {
			if !math.IsNaN(v) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return Summary{}
	}
	summary := Summary{
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		Mean: stat.Mean(values, nil),
	}
	if len(values) > 1 {
		summary.StdDev = stat.StdDev(values, nil)
	}
	return summary
}
