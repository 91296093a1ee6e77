package forecast

import "math"

// Trend is a least-squares line through a series of monthly totals.
type Trend struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	Next      float64 `json:"next"` // value of the line one period after the series
	Points    int     `json:"points"`
	Valid     bool    `json:"valid"`
}

// LinearTrend fits y = intercept + slope*x over x = 0..n-1. Fewer than two points
// give an invalid trend.
func LinearTrend(totals []float64) Trend {
	n := len(totals)
	t := Trend{Points: n}
	if n < 2 {
		return t
	}

	var sx, sy, sxx, sxy float64
	for i, y := range totals {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	fn := float64(n)
	den := fn*sxx - sx*sx
	if den == 0 {
		return t
	}
	t.Slope = (fn*sxy - sx*sy) / den
	t.Intercept = (sy - t.Slope*sx) / fn
	t.Next = t.Intercept + t.Slope*fn
	t.Valid = true
	return t
}

// Accuracy scores a past projection against what actually happened, in [0, 100].
// A non-positive projection scores 0.
func Accuracy(projected, actual float64) float64 {
	if projected <= 0 {
		return 0
	}
	return round2(math.Max(0, 1-math.Abs(projected-actual)/projected) * 100)
}
