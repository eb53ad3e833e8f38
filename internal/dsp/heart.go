package dsp

// Heart rate estimation limits.
const (
	MinBPM = 30
	MaxBPM = 200

	// minNonZero is the least number of written samples worth searching.
	minNonZero = 20
)

// EstimateBPM detects R-wave peaks in a filtered window sampled at fs Hz
// and returns the mean rate in beats per minute, clamped to
// [MinBPM, MaxBPM]. Zero samples are treated as not yet written and are
// ignored. The second result is false when no estimate is possible: too
// few samples, a flat window or fewer than two peaks.
func EstimateBPM(window []float64, fs float64) (float64, bool) {
	if fs <= 0 {
		return 0, false
	}
	signal := make([]float64, 0, len(window))
	for _, v := range window {
		if v != 0 {
			signal = append(signal, v)
		}
	}
	if len(signal) < minNonZero {
		return 0, false
	}
	sum := Summarize(signal)
	span := sum.Range()
	if span == 0 {
		return 0, false
	}

	distance := int(0.4 * fs)
	peaks := FindPeaks(signal, PeakOptions{Distance: distance}.
		WithHeight(sum.Mean+0.3*span).
		WithProminence(0.1*span))
	if len(peaks) < 2 {
		return 0, false
	}

	// The mean of successive differences is the first-to-last span
	// divided by the number of intervals.
	interval := float64(peaks[len(peaks)-1]-peaks[0]) / float64(len(peaks)-1) / fs
	if interval <= 0 {
		return 0, false
	}
	bpm := 60 / interval
	return min(max(bpm, MinBPM), MaxBPM), true
}
