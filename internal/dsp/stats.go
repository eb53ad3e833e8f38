package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Percentile returns the p-th percentile of data using linear
// interpolation between closest ranks. data is not modified.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// Summary holds the descriptive statistics used by the estimators.
type Summary struct {
	Mean, Min, Max float64
}

func (s Summary) Range() float64 { return s.Max - s.Min }

// Summarize returns the mean and extrema of data, which must not be empty.
func Summarize(data []float64) Summary {
	return Summary{
		Mean: stat.Mean(data, nil),
		Min:  floats.Min(data),
		Max:  floats.Max(data),
	}
}
