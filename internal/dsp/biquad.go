// Package dsp implements the streaming ECG conditioning filters, peak
// detection and heart rate estimation.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

var ErrBadDesign = errors.New("invalid filter design")

// Biquad is a second order IIR section in transposed direct form II.
// Coefficients are normalised so that a0 is one.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64

	z1, z2 float64
}

// Process filters one sample and updates the section's delay state.
func (s *Biquad) Process(x float64) float64 {
	y := s.B0*x + s.z1
	s.z1 = s.B1*x - s.A1*y + s.z2
	s.z2 = s.B2*x - s.A2*y
	return y
}

// Reset clears the delay state.
func (s *Biquad) Reset() { s.z1, s.z2 = 0, 0 }

func checkCutoff(kind string, fc, fs float64) error {
	if fs <= 0 {
		return fmt.Errorf("%w: %s sampling rate %v", ErrBadDesign, kind, fs)
	}
	if fc <= 0 || fc >= fs/2 {
		return fmt.Errorf("%w: %s frequency %v Hz outside (0, %v) Hz", ErrBadDesign, kind, fc, fs/2)
	}
	return nil
}

// butterworthQ returns the quality factors of the conjugate pole pairs of
// an even order Butterworth prototype.
func butterworthQ(order int) ([]float64, error) {
	if order < 2 || order%2 != 0 {
		return nil, fmt.Errorf("%w: butterworth order %d must be even and positive", ErrBadDesign, order)
	}
	q := make([]float64, order/2)
	for k := range q {
		theta := float64(2*k+1) * math.Pi / float64(2*order)
		q[k] = 1 / (2 * math.Cos(theta))
	}
	return q, nil
}

// ButterworthLowPass designs a low-pass Butterworth filter as a cascade of
// biquads using the bilinear transform with pre-warping.
func ButterworthLowPass(order int, fc, fs float64) ([]Biquad, error) {
	if err := checkCutoff("low-pass", fc, fs); err != nil {
		return nil, err
	}
	qs, err := butterworthQ(order)
	if err != nil {
		return nil, err
	}
	k := math.Tan(math.Pi * fc / fs)
	sos := make([]Biquad, len(qs))
	for i, q := range qs {
		norm := 1 / (1 + k/q + k*k)
		b0 := k * k * norm
		sos[i] = Biquad{
			B0: b0,
			B1: 2 * b0,
			B2: b0,
			A1: 2 * (k*k - 1) * norm,
			A2: (1 - k/q + k*k) * norm,
		}
	}
	return sos, nil
}

// ButterworthHighPass designs a high-pass Butterworth filter as a cascade
// of biquads using the bilinear transform with pre-warping.
func ButterworthHighPass(order int, fc, fs float64) ([]Biquad, error) {
	if err := checkCutoff("high-pass", fc, fs); err != nil {
		return nil, err
	}
	qs, err := butterworthQ(order)
	if err != nil {
		return nil, err
	}
	k := math.Tan(math.Pi * fc / fs)
	sos := make([]Biquad, len(qs))
	for i, q := range qs {
		norm := 1 / (1 + k/q + k*k)
		sos[i] = Biquad{
			B0: norm,
			B1: -2 * norm,
			B2: norm,
			A1: 2 * (k*k - 1) * norm,
			A2: (1 - k/q + k*k) * norm,
		}
	}
	return sos, nil
}

// Notch designs a second order IIR notch at f0 Hz with quality factor q.
// The -3 dB bandwidth is f0/q.
func Notch(f0, q, fs float64) (Biquad, error) {
	if err := checkCutoff("notch", f0, fs); err != nil {
		return Biquad{}, err
	}
	if q <= 0 {
		return Biquad{}, fmt.Errorf("%w: notch quality factor %v", ErrBadDesign, q)
	}
	w0 := 2 * math.Pi * f0 / fs
	beta := math.Tan(w0 / q / 2)
	gain := 1 / (1 + beta)
	c := math.Cos(w0)
	return Biquad{
		B0: gain,
		B1: -2 * c * gain,
		B2: gain,
		A1: -2 * c * gain,
		A2: 2*gain - 1,
	}, nil
}
