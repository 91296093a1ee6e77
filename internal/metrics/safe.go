package metrics

import "math"

// SafeRate returns num/den as a percentage in [0, 100]; a non-positive denominator yields 0.
func SafeRate(num, den int) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	r := float64(num) / float64(den) * 100
	if r > 100 {
		r = 100
	}
	return round2(r)
}

// SafeDiv returns a/b, or 0 when b is zero or the result is not finite.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	r := a / b
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
