// Package waveform generates reference waveforms and quantizes them into
// the integer range of an arbitrary waveform DAC
package waveform

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmpty is generated when a sequence has no samples
	ErrEmpty = errors.New("sequence is empty")

	// ErrConstant is generated when every sample of a sequence has the same value
	ErrConstant = errors.New("sequence is constant")

	// ErrNotFinite is generated when a sequence holds NaN or Inf
	ErrNotFinite = errors.New("sequence is not finite")

	// ErrBounds is generated when low is not below high
	ErrBounds = errors.New("low must be less than high")
)

// margin keeps rounding from pushing a sample past high
const margin = 0.999

// ReferenceSine returns n samples of sin(2*pi*periods*i/n), i in [0, n)
func ReferenceSine(n int, periods float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * periods * float64(i) / float64(n))
	}
	return out
}

// ReferenceSinc returns n samples of sin(x)/x centered on zero, with x
// spanning periods cycles over the window.  A small offset of 1e-4/n keeps
// the center sample away from 0/0.
func ReferenceSinc(n int, periods float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	var (
		fn  = float64(n)
		eps = 1e-4 / fn
		out = make([]float64, 0, n)
	)
	for i := -n / 2; i < n-n/2; i++ {
		x := (float64(i)/fn + eps) * 2 * math.Pi * periods
		if x == 0 {
			out = append(out, 1) // periods == 0
			continue
		}
		out = append(out, math.Sin(x)/x)
	}
	return out
}

// Extrema returns the minimum and maximum of seq, which must not be empty
func Extrema(seq []float64) (min, max float64) {
	min, max = seq[0], seq[0]
	for _, v := range seq[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Rescale maps seq affinely onto integers in [low, high].  The minimum of
// seq becomes low and the maximum lands just below high; values are
// truncated, not rounded.  Rescale panics if it would return a value
// outside [low, high].
func Rescale(seq []float64, low, high int) ([]int, error) {
	if len(seq) == 0 {
		return nil, ErrEmpty
	}
	if low >= high {
		return nil, fmt.Errorf("%w, got [%d, %d]", ErrBounds, low, high)
	}
	if high-low <= 0 {
		return nil, fmt.Errorf("%w: width of [%d, %d] overflows int", ErrBounds, low, high)
	}
	for i, v := range seq {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrNotFinite, i, v)
		}
	}
	min, max := Extrema(seq)
	span := max - min
	if span == 0 {
		return nil, ErrConstant
	}
	if math.IsInf(span, 0) {
		return nil, fmt.Errorf("%w: range of samples overflows", ErrNotFinite)
	}
	scale := float64(high-low) * margin / span
	out := make([]int, len(seq))
	for i, v := range seq {
		q := low + int((v-min)*scale)
		if q < low || q > high {
			panic(fmt.Sprintf("waveform: rescaled sample %d of %v is %d, outside [%d, %d]", i, v, q, low, high))
		}
		out[i] = q
	}
	return out, nil
}
