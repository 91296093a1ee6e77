package history

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// BatchReport aggregates per-deal reconstruction results for a run.
type BatchReport struct {
	Processed   int                  `json:"processed"`
	Succeeded   int                  `json:"succeeded"`
	Skipped     int                  `json:"skipped"`
	SkipReasons map[string]int       `json:"skip_reasons,omitempty"`
	Anomalies   int                  `json:"anomalies"`
	DealIDs     []int64              `json:"-"`
	Intervals   []Interval           `json:"-"`
	ByDeal      map[int64][]Interval `json:"-"`
}

// GroupEvents indexes status changes by deal id.
func GroupEvents(events []model.StatusChange) map[int64][]model.StatusChange {
	out := make(map[int64][]model.StatusChange)
	for _, ev := range events {
		out[ev.DealID] = append(out[ev.DealID], ev)
	}
	return out
}

// ReconstructBatch reconstructs every deal in id order. The output depends only on
// its inputs, so rerunning it over the same data yields identical intervals.
func ReconstructBatch(deals []model.Deal, eventsByDeal map[int64][]model.StatusChange, ref *reference.Context, asOf time.Time, opts ...Option) *BatchReport {
	sorted := make([]model.Deal, len(deals))
	copy(sorted, deals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rep := &BatchReport{
		SkipReasons: map[string]int{},
		ByDeal:      make(map[int64][]Interval, len(sorted)),
	}
	for _, d := range sorted {
		rep.Processed++
		res := Reconstruct(d, eventsByDeal[d.ID], ref, asOf, opts...)
		rep.Anomalies += len(res.Anomalies)
		if res.Status == StatusSkipped {
			rep.Skipped++
			rep.SkipReasons[res.Reason]++
			continue
		}
		rep.Succeeded++
		rep.DealIDs = append(rep.DealIDs, d.ID)
		rep.Intervals = append(rep.Intervals, res.Intervals...)
		rep.ByDeal[d.ID] = res.Intervals
	}
	return rep
}

// Verify checks that each deal's intervals are contiguous, non-overlapping, have
// non-negative durations and end in exactly one open interval.
func Verify(intervals []Interval) error {
	byDeal := make(map[int64][]Interval)
	for _, iv := range intervals {
		byDeal[iv.DealID] = append(byDeal[iv.DealID], iv)
	}

	ids := make([]int64, 0, len(byDeal))
	for id := range byDeal {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ivs := byDeal[id]
		sort.SliceStable(ivs, func(i, j int) bool { return ivs[i].EntryAt.Before(ivs[j].EntryAt) })
		for i, iv := range ivs {
			if iv.DurationHours < 0 {
				return eris.Errorf("history: deal %d interval %d has negative duration", id, i)
			}
			last := i == len(ivs)-1
			if iv.Open() != last {
				if last {
					return eris.Errorf("history: deal %d has no open interval", id)
				}
				return eris.Errorf("history: deal %d interval %d is open but not last", id, i)
			}
			if last {
				continue
			}
			if !iv.ExitAt.Equal(ivs[i+1].EntryAt) {
				return eris.Errorf("history: deal %d interval %d exits at %s but next enters at %s",
					id, i, iv.ExitAt.Format(time.RFC3339), ivs[i+1].EntryAt.Format(time.RFC3339))
			}
		}
	}
	return nil
}
