// Package numeric holds the small float helpers shared by the scoring stages.
package numeric

import "math"

// Round rounds v half away from zero to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ramp maps v linearly from [lo, hi] onto [0, 1], clamped.
func Ramp(v, lo, hi float64) float64 {
	return Clamp((v-lo)/(hi-lo), 0, 1)
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
