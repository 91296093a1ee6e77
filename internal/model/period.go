package model

import "time"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayRange is an inclusive range of calendar days (UTC).
type DayRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDayRange builds the range of days covering [start, end].
func NewDayRange(start, end time.Time) DayRange {
	return DayRange{From: Day(start), To: Day(end)}
}

// LastDays returns the n days ending on (and including) asOf's day.
func LastDays(asOf time.Time, n int) DayRange {
	if n < 1 {
		n = 1
	}
	to := Day(asOf)
	return DayRange{From: to.AddDate(0, 0, -(n - 1)), To: to}
}

// Days lists every day in the range in order. An inverted range is empty.
func (r DayRange) Days() []time.Time {
	var out []time.Time
	for d := Day(r.From); !d.After(Day(r.To)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Contains reports whether t falls on a day inside the range.
func (r DayRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.From)) && !d.After(Day(r.To))
}

// End returns the first instant after the range.
func (r DayRange) End() time.Time {
	return Day(r.To).AddDate(0, 0, 1)
}
