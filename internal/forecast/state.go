// Package forecast projects month-end revenue and leads from the month-to-date run
// rate, sets a damped target and analyses the gap to it.
package forecast

import "time"

// PeriodLayout formats the period key of forecast and gap records.
const PeriodLayout = "2006-01"

// MonthState locates asOf inside a calendar month.
// DaysElapsed + DaysRemaining == DaysInMonth always holds.
type MonthState struct {
	Period        string    `json:"period"`
	MonthStart    time.Time `json:"month_start"`
	AsOf          time.Time `json:"as_of"`
	DaysInMonth   int       `json:"days_in_month"`
	DaysElapsed   int       `json:"days_elapsed"`
	DaysRemaining int       `json:"days_remaining"`
}

// NewMonthState builds the state of month (any instant inside it) as seen at asOf.
// Elapsed days count the asOf day and are clamped to [1, DaysInMonth].
func NewMonthState(asOf, month time.Time) MonthState {
	start := MonthStart(month)
	dim := start.AddDate(0, 1, -1).Day()

	elapsed := int(asOf.UTC().Sub(start).Hours()/24) + 1
	if asOf.Before(start) {
		elapsed = 1
	}
	if elapsed < 1 {
		elapsed = 1
	}
	if elapsed > dim {
		elapsed = dim
	}

	return MonthState{
		Period:        start.Format(PeriodLayout),
		MonthStart:    start,
		AsOf:          asOf,
		DaysInMonth:   dim,
		DaysElapsed:   elapsed,
		DaysRemaining: dim - elapsed,
	}
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParsePeriod parses a "YYYY-MM" period key.
func ParsePeriod(s string) (time.Time, error) {
	return time.ParseInLocation(PeriodLayout, s, time.UTC)
}

// PreviousPeriod returns the period key of the month before start.
func PreviousPeriod(start time.Time) string {
	return MonthStart(start).AddDate(0, -1, 0).Format(PeriodLayout)
}
