package dsp

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Stage names a filter stage. Stages always run in declaration order.
type Stage int

const (
	StageNotch Stage = iota
	StageHighPass
	StageLowPass

	numStages
)

func (s Stage) String() string {
	switch s {
	case StageNotch:
		return "notch"
	case StageHighPass:
		return "high-pass"
	case StageLowPass:
		return "low-pass"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ErrUnknownStage is returned by ParseStage for an unrecognised name.
var ErrUnknownStage = errors.New("unknown filter stage")

// ParseStage maps a stage name to its Stage. Both the String form and the
// spellings without a hyphen or with an underscore are accepted.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "notch":
		return StageNotch, nil
	case "high-pass", "highpass", "high_pass":
		return StageHighPass, nil
	case "low-pass", "lowpass", "low_pass":
		return StageLowPass, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Stages lists every stage in processing order.
func Stages() []Stage { return []Stage{StageNotch, StageHighPass, StageLowPass} }

// ChainConfig describes a filter chain.
type ChainConfig struct {
	Notch      bool
	NotchHz    float64
	NotchQ     float64
	HighPass   bool
	HighPassHz float64
	LowPass    bool
	LowPassHz  float64
	Order      int

	// Warmup is the number of samples that must be seen before filtered
	// output is produced. Earlier samples are passed through raw.
	Warmup int
}

// DefaultChainConfig is the conditioning used for diagnostic ECG display.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Notch:      true,
		NotchHz:    60,
		NotchQ:     60,
		HighPass:   true,
		HighPassHz: 0.5,
		LowPass:    true,
		LowPassHz:  20,
		Order:      4,
		Warmup:     30,
	}
}

// divergenceLimit bounds a sane filter output. Inputs are 16 bit samples.
const divergenceLimit = 1e9

// Chain is an incremental notch, high-pass, low-pass cascade. Each call to
// Process costs a constant number of operations and the filter state is
// carried from one call to the next.
type Chain struct {
	stages  [numStages][]Biquad
	enabled [numStages]bool
	warmup  int
	seen    int

	resets int
}

// NewChain designs the stages described by cfg for sampling rate fs. A
// disabled stage with a configured frequency is still designed so it can
// be switched on later. An enabled stage that cannot be designed, for
// example a cutoff at or above the Nyquist frequency, is left out and
// reported in the returned error; the returned chain is always usable.
func NewChain(cfg ChainConfig, fs float64) (*Chain, error) {
	c := &Chain{warmup: cfg.Warmup}
	order := cfg.Order
	if order == 0 {
		order = 4
	}
	var errs []error
	design := func(s Stage, on bool, fc float64, build func() ([]Biquad, error)) {
		if !on && fc == 0 {
			return
		}
		sos, err := build()
		if err != nil {
			if on {
				errs = append(errs, err)
			}
			return
		}
		c.stages[s] = sos
		c.enabled[s] = on
	}
	design(StageNotch, cfg.Notch, cfg.NotchHz, func() ([]Biquad, error) {
		s, err := Notch(cfg.NotchHz, cfg.NotchQ, fs)
		return []Biquad{s}, err
	})
	design(StageHighPass, cfg.HighPass, cfg.HighPassHz, func() ([]Biquad, error) {
		return ButterworthHighPass(order, cfg.HighPassHz, fs)
	})
	design(StageLowPass, cfg.LowPass, cfg.LowPassHz, func() ([]Biquad, error) {
		return ButterworthLowPass(order, cfg.LowPassHz, fs)
	})
	return c, errors.Join(errs...)
}

// Enabled reports whether stage s is active.
func (c *Chain) Enabled(s Stage) bool {
	return s >= 0 && s < numStages && c.enabled[s]
}

// Designed reports whether stage s has coefficients and can be enabled.
func (c *Chain) Designed(s Stage) bool {
	return s >= 0 && s < numStages && c.stages[s] != nil
}

// SetEnabled toggles a designed stage. Enabling a stage clears its state.
// It reports whether the stage exists.
func (c *Chain) SetEnabled(s Stage, on bool) bool {
	if !c.Designed(s) {
		return false
	}
	if on && !c.enabled[s] {
		for i := range c.stages[s] {
			c.stages[s][i].Reset()
		}
	}
	c.enabled[s] = on
	return true
}

// Process filters one raw sample. Until the warm-up length has been
// reached the raw sample is returned unchanged, although the filter state
// is still advanced. If the cascade diverges its state is cleared and the
// raw sample is returned.
func (c *Chain) Process(x float64) float64 {
	y := x
	for s := Stage(0); s < numStages; s++ {
		if !c.enabled[s] {
			continue
		}
		for i := range c.stages[s] {
			y = c.stages[s][i].Process(y)
		}
	}
	c.seen++
	if math.IsNaN(y) || math.IsInf(y, 0) || math.Abs(y) > divergenceLimit {
		c.resetState()
		c.resets++
		return x
	}
	if c.seen < c.warmup {
		return x
	}
	return y
}

// Filter runs a copy of the chain, with cleared state, over a complete
// signal and returns the output. The receiver is not modified.
func (c *Chain) Filter(signal []float64) []float64 {
	batch := c.clone()
	batch.Reset()
	out := make([]float64, len(signal))
	for i, x := range signal {
		out[i] = batch.Process(x)
	}
	return out
}

// Reset clears the delay state of every stage and restarts warm-up.
func (c *Chain) Reset() {
	c.resetState()
	c.seen = 0
}

// Divergences returns the number of times the chain has been reset
// because its output became non-finite or unbounded.
func (c *Chain) Divergences() int { return c.resets }

func (c *Chain) resetState() {
	for s := range c.stages {
		for i := range c.stages[s] {
			c.stages[s][i].Reset()
		}
	}
}

func (c *Chain) clone() *Chain {
	d := *c
	for s := range c.stages {
		if c.stages[s] != nil {
			d.stages[s] = append([]Biquad(nil), c.stages[s]...)
		}
	}
	return &d
}
