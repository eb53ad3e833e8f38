// Package sim generates synthetic device traffic for exercising the hub
// without hardware.
package sim

import "math"

// ECG produces a non-clinical ECG-like waveform: a slow baseline plus
// gaussian P, QRS and T waves.
type ECG struct {
	fs    float64
	bpm   float64
	noise float64
	gain  float64
	phase float64
}

// NewECG returns a generator at fs Hz and bpm beats per minute. noise is
// the peak amplitude of the added jitter relative to an R wave of 1, and
// gain scales the output to device counts.
func NewECG(fs, bpm, noise, gain float64) *ECG {
	return &ECG{fs: fs, bpm: bpm, noise: noise, gain: gain}
}

// Next returns the next sample in R-wave units and advances time.
func (s *ECG) Next() float64 {
	s.phase += s.bpm / 60 / s.fs
	if s.phase >= 1 {
		s.phase -= 1
	}
	t := s.phase

	baseline := 0.05 * math.Sin(2*math.Pi*0.33*t)
	p := 0.08 * gauss(t, 0.18, 0.03)
	q := -0.12 * gauss(t, 0.30, 0.01)
	r := 1.00 * gauss(t, 0.32, 0.008)
	sw := -0.25 * gauss(t, 0.35, 0.012)
	tw := 0.25 * gauss(t, 0.60, 0.06)
	n := s.noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)

	return baseline + p + q + r + sw + tw + n
}

// Batch returns n samples scaled by the gain and clamped to int16.
func (s *ECG) Batch(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = clampInt16(math.Round(s.Next() * s.gain))
	}
	return out
}

// SpO2 produces a saturation trace that drifts slowly around a base value.
type SpO2 struct {
	fs   float64
	base float64
	n    int
}

func NewSpO2(fs, base float64) *SpO2 {
	return &SpO2{fs: fs, base: base}
}

func (s *SpO2) Batch(n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		t := float64(s.n) / s.fs
		s.n++
		v := math.Round(s.base + 1.5*math.Sin(2*math.Pi*t/20))
		out[i] = uint16(min(max(v, 0), 100))
	}
	return out
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

func clampInt16(v float64) int16 {
	return int16(min(max(v, math.MinInt16), math.MaxInt16))
}
