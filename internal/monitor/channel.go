package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/ring"
)

// RangePolicy bounds the display range of a channel family.
type RangePolicy struct {
	Floor, Ceiling float64
	// MinDelta is the change either bound must exceed before a
	// recomputed range is committed.
	MinDelta float64
	Initial  models.Range
}

var (
	ECGRange = RangePolicy{
		Floor:    -5000,
		Ceiling:  5000,
		MinDelta: 100,
		Initial:  models.Range{Min: -2000, Max: 2000},
	}
	SpO2Range = RangePolicy{
		Floor:    70,
		Ceiling:  100,
		MinDelta: 1,
		Initial:  models.Range{Min: 80, Max: 100},
	}
)

// ErrNoFilterStage is returned when a filter stage is toggled on a channel
// whose chain has no design for it.
var ErrNoFilterStage = errors.New("filter stage not configured")

// spo2ValueSamples is the number of trailing samples averaged into the
// displayed SpO2 value.
const spo2ValueSamples = 10

// Channel is the buffered state of one waveform stream. All fields are
// guarded by mu.
type Channel struct {
	mu sync.Mutex

	kind     models.ChannelKind
	deviceID uint32
	rate     int
	policy   RangePolicy

	trace     *ring.Trace[int]
	recent    *ring.Window[float64]
	rng       models.Range
	autoRange bool

	// ECG only.
	chain    *dsp.Chain
	filtered *ring.Window[float64]
	bpm      float64
	hasBPM   bool

	// SpO2 only.
	value float64
}

func newChannel(kind models.ChannelKind, deviceID uint32, rate, displaySeconds, windowSeconds int, policy RangePolicy) *Channel {
	return &Channel{
		kind:      kind,
		deviceID:  deviceID,
		rate:      rate,
		policy:    policy,
		trace:     ring.NewTrace[int](rate * displaySeconds),
		recent:    ring.NewWindow[float64](rate * windowSeconds),
		rng:       policy.Initial,
		autoRange: true,
	}
}

// ingest is the result of writing one batch into a channel.
type ingest struct {
	shifted  bool
	raw      []int
	filtered []float64
	bpm      float64
	hasBPM   bool
	resets   int
}

// writeLocked appends samples to the trace and the recent window and
// reports whether the trace cursor wrapped.
func (c *Channel) writeLocked(samples []int) bool {
	shifted := false
	for _, s := range samples {
		if c.trace.Write(s) {
			shifted = true
		}
		c.recent.Push(float64(s))
	}
	return shifted
}

// writeECG stores a decoded ECG batch. When filter is set each sample
// also runs through the filter chain and the heart rate is re-estimated
// from the filtered window.
func (c *Channel) writeECG(samples []int, filter bool) ingest {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := ingest{shifted: c.writeLocked(samples)}
	if !filter || c.chain == nil {
		return res
	}
	before := c.chain.Divergences()
	res.raw = samples
	res.filtered = make([]float64, len(samples))
	for i, s := range samples {
		y := c.chain.Process(float64(s))
		c.filtered.Push(y)
		res.filtered[i] = y
	}
	res.resets = c.chain.Divergences() - before
	c.bpm, c.hasBPM = dsp.EstimateBPM(c.filtered.Values(), float64(c.rate))
	res.bpm, res.hasBPM = c.bpm, c.hasBPM
	return res
}

// writeSpO2 stores a decoded SpO2 batch and refreshes the displayed value.
func (c *Channel) writeSpO2(samples []int) (shifted bool, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	shifted = c.writeLocked(samples)
	if last := c.recent.Last(spo2ValueSamples); len(last) > 0 {
		c.value = math.Round(stat.Mean(last, nil)*10) / 10
	}
	return shifted, c.value
}

// resetFilter clears the filter state and the filtered history.
func (c *Channel) resetFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chain == nil {
		return
	}
	c.chain.Reset()
	c.filtered.Reset()
	c.bpm, c.hasBPM = 0, false
}

// computeRange returns the display range suggested by the recent window:
// the 10th to 90th percentile widened by 20% of that span on each side,
// clamped to the policy's floor and ceiling.
func computeRange(window []float64, p RangePolicy) models.Range {
	q10 := dsp.Percentile(window, 10)
	q90 := dsp.Percentile(window, 90)
	margin := (q90 - q10) * 0.2
	clamp := func(v float64) float64 { return min(max(v, p.Floor), p.Ceiling) }
	return models.Range{Min: clamp(q10 - margin), Max: clamp(q90 + margin)}
}

// adjustRange recomputes the display range and commits it when auto-range
// is on and either bound moved by more than the policy's minimum delta.
func (c *Channel) adjustRange() (models.Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoRange || c.recent.Len() == 0 {
		return c.rng, false
	}
	next := computeRange(c.recent.Values(), c.policy)
	if math.Abs(next.Min-c.rng.Min) <= c.policy.MinDelta && math.Abs(next.Max-c.rng.Max) <= c.policy.MinDelta {
		return c.rng, false
	}
	c.rng = next
	return next, true
}

// setFilterStage switches one stage of the ECG chain. A nil on flips the
// current setting. The filtered history and heart rate are cleared since
// they no longer match the active cascade.
func (c *Channel) setFilterStage(s dsp.Stage, on *bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chain == nil {
		return false, fmt.Errorf("%w: %s", ErrNoFilterStage, s)
	}
	next := !c.chain.Enabled(s)
	if on != nil {
		next = *on
	}
	if !c.chain.SetEnabled(s, next) {
		return false, fmt.Errorf("%w: %s", ErrNoFilterStage, s)
	}
	c.filtered.Reset()
	c.bpm, c.hasBPM = 0, false
	return next, nil
}

func (c *Channel) toggleAutoRange() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoRange = !c.autoRange
	return c.autoRange
}

func (c *Channel) snapshot() models.ChannelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := models.ChannelSnapshot{
		Kind:         c.kind,
		DeviceID:     c.deviceID,
		SamplingRate: c.rate,
		Capacity:     c.trace.Size(),
		Cursor:       c.trace.Cursor(),
		WindowLen:    c.recent.Len(),
		Range:        c.rng,
		AutoRange:    c.autoRange,
		Value:        c.value,
		BPM:          c.bpm,
		HasBPM:       c.hasBPM,
	}
	if c.filtered != nil {
		s.Filtered = c.filtered.Values()
	}
	if c.chain != nil {
		for _, st := range dsp.Stages() {
			if c.chain.Designed(st) {
				if s.Filters == nil {
					s.Filters = make(map[string]bool)
				}
				s.Filters[st.String()] = c.chain.Enabled(st)
			}
		}
	}
	return s
}

// clearTrace zeroes the display trace and rewinds its cursor.
func (c *Channel) clearTrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace.Reset()
}

func (c *Channel) orderedTrace() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, c.trace.Size())
	c.trace.Ordered(out)
	return out
}

// recentValues returns a copy of the recent raw window, oldest first.
func (c *Channel) recentValues() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recent.Values()
}
