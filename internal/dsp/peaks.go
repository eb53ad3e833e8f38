package dsp

import (
	"math"
	"sort"
)

// PeakOptions constrains FindPeaks. Zero values disable a constraint.
type PeakOptions struct {
	Height     float64
	Distance   int
	Prominence float64

	useHeight, useProminence bool
}

// WithHeight returns o requiring peaks of at least h.
func (o PeakOptions) WithHeight(h float64) PeakOptions {
	o.Height, o.useHeight = h, true
	return o
}

// WithProminence returns o requiring peaks with a prominence of at least p.
func (o PeakOptions) WithProminence(p float64) PeakOptions {
	o.Prominence, o.useProminence = p, true
	return o
}

// FindPeaks returns the indices of local maxima in x that satisfy opts.
// Flat peaks are reported at their midpoint. Constraints are applied in
// the order height, distance, prominence; the distance constraint keeps
// the highest of peaks closer than opts.Distance samples.
func FindPeaks(x []float64, opts PeakOptions) []int {
	peaks := localMaxima(x)
	if opts.useHeight {
		peaks = filterPeaks(peaks, func(p int) bool { return x[p] >= opts.Height })
	}
	if opts.Distance > 1 && len(peaks) > 1 {
		peaks = selectByDistance(x, peaks, opts.Distance)
	}
	if opts.useProminence {
		peaks = filterPeaks(peaks, func(p int) bool { return prominence(x, p) >= opts.Prominence })
	}
	return peaks
}

func localMaxima(x []float64) []int {
	var peaks []int
	n := len(x)
	for i := 1; i < n-1; i++ {
		if x[i-1] >= x[i] {
			continue
		}
		ahead := i + 1
		for ahead < n-1 && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead - 1
		}
	}
	return peaks
}

func filterPeaks(peaks []int, keep func(int) bool) []int {
	out := peaks[:0]
	for _, p := range peaks {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] < x[peaks[order[b]]]
	})
	for j := len(order) - 1; j >= 0; j-- {
		i := order[j]
		if !keep[i] {
			continue
		}
		for k := i - 1; k >= 0 && peaks[i]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := i + 1; k < len(peaks) && peaks[k]-peaks[i] < distance; k++ {
			keep[k] = false
		}
	}
	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// prominence returns how far the peak at p stands above the higher of the
// two lowest points reached before a higher sample on either side.
func prominence(x []float64, p int) float64 {
	leftMin := x[p]
	for i := p; i >= 0 && x[i] <= x[p]; i-- {
		leftMin = math.Min(leftMin, x[i])
	}
	rightMin := x[p]
	for i := p; i < len(x) && x[i] <= x[p]; i++ {
		rightMin = math.Min(rightMin, x[i])
	}
	return x[p] - math.Max(leftMin, rightMin)
}
