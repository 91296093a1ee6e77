package metrics

import (
	"sort"
	"time"

	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// LossBreakdown summarises the deals lost on one day for one reason.
type LossBreakdown struct {
	Date          time.Time `json:"date"`
	Reason        string    `json:"reason"`
	Count         int       `json:"count"`
	ValueLost     float64   `json:"value_lost"`
	AvgCycleDays  float64   `json:"avg_cycle_days"`
	TopPriorStage string    `json:"top_prior_stage,omitempty"`
}

// LossAnalysis groups lost deals by the day they were lost and their loss reason.
// Deals lost outside the range are ignored.
func LossAnalysis(deals []model.Deal, intervals map[int64][]history.Interval, ref *reference.Context, r model.DayRange) []LossBreakdown {
	type key struct {
		day    time.Time
		reason string
	}
	type acc struct {
		count    int
		value    float64
		cycleSum int
		stages   map[string]int
	}
	groups := map[key]*acc{}

	for _, d := range deals {
		ivs := intervals[d.ID]
		if currentBucket(d, ivs, ref.Bucket) != model.BucketLost {
			continue
		}
		closed := CloseTime(d, ivs)
		if !r.Contains(closed) {
			continue
		}
		k := key{day: model.Day(closed), reason: ref.DealLossReason(d)}
		a, ok := groups[k]
		if !ok {
			a = &acc{stages: map[string]int{}}
			groups[k] = a
		}
		a.count++
		a.value += d.Value
		a.cycleSum += SalesCycleDays(d, ivs)
		if prior := stageBeforeLoss(ivs); prior != "" {
			a.stages[prior]++
		}
	}

	out := make([]LossBreakdown, 0, len(groups))
	for k, a := range groups {
		out = append(out, LossBreakdown{
			Date:          k.day,
			Reason:        k.reason,
			Count:         a.count,
			ValueLost:     round2(a.value),
			AvgCycleDays:  round2(SafeDiv(float64(a.cycleSum), float64(a.count))),
			TopPriorStage: mostCommon(a.stages),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// stageBeforeLoss names the stage the deal occupied just before its final lost interval.
func stageBeforeLoss(ivs []history.Interval) string {
	for i := len(ivs) - 1; i > 0; i-- {
		if ivs[i].Bucket == model.BucketLost && ivs[i-1].Bucket != model.BucketLost {
			return ivs[i-1].StageName
		}
	}
	return ""
}

func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for name, n := range counts {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return best
}
