// Package metrics derives daily commercial metrics from deals and their reconstructed
// stage intervals.
package metrics

import (
	"sort"
	"strconv"
	"time"

	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// Dimension is the breakdown axis of a PeriodMetric row.
type Dimension string

const (
	DimensionAll     Dimension = "all"
	DimensionOwner   Dimension = "owner"
	DimensionChannel Dimension = "channel"
)

// Dimensions lists every breakdown in output order.
var Dimensions = []Dimension{DimensionAll, DimensionOwner, DimensionChannel}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, bool) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// PeriodMetric aggregates the deals created on one day, for one dimension value.
// The bucket counts are mutually exclusive and sum to TotalDeals.
type PeriodMetric struct {
	Date           time.Time `json:"date"`
	Dimension      Dimension `json:"dimension"`
	DimensionKey   string    `json:"dimension_key"`
	DimensionLabel string    `json:"dimension_label"`

	TotalDeals       int `json:"total_deals"`
	LeadCount        int `json:"lead_count"`
	QualifiedCount   int `json:"qualified_count"`
	MeetingCount     int `json:"meeting_count"`
	ProposalCount    int `json:"proposal_count"`
	NegotiationCount int `json:"negotiation_count"`
	OtherCount       int `json:"other_count"`
	Won              int `json:"won"`
	Lost             int `json:"lost"`
	Open             int `json:"open"`

	WinRate         float64 `json:"win_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	ProposalWinRate float64 `json:"proposal_win_rate"`

	Revenue       float64 `json:"revenue"`
	PipelineValue float64 `json:"pipeline_value"`
	AvgDealValue  float64 `json:"avg_deal_value"`
	AvgWonValue   float64 `json:"avg_won_value"`

	AvgCycleDays     float64 `json:"avg_cycle_days"`
	AvgResponseHours float64 `json:"avg_response_hours"`

	Spend          float64 `json:"spend"`
	CostPerLead    float64 `json:"cost_per_lead"`
	CostEfficiency float64 `json:"cost_efficiency"`
}

// Input is everything one aggregation pass reads.
type Input struct {
	Deals      []model.Deal
	Intervals  map[int64][]history.Interval
	Activities []model.Activity
	Ref        *reference.Context
	Range      model.DayRange
}

// Output holds the derived rows, ready for range replacement.
type Output struct {
	Periods    []PeriodMetric   `json:"periods"`
	Losses     []LossBreakdown  `json:"losses"`
	Activities []ActivityMetric `json:"activities"`
	OutOfRange int              `json:"out_of_range"`
	Channels   map[int64]string `json:"-"`
}

// facts is what one deal contributes to every row it lands in.
type facts struct {
	deal        model.Deal
	bucket      model.Bucket
	channel     string
	spend       float64
	cycleDays   int
	responseH   float64
	hasResponse bool
	reachedProp bool
}

// Aggregate computes the per-day metrics for every dimension. Deals are grouped by
// creation day; deals created outside the range are counted but not aggregated.
// Every day in the range gets an "all" row, zero-valued when nothing was created.
func Aggregate(in Input) Output {
	ref := in.Ref
	if ref == nil {
		ref = reference.NewContext(nil, nil, nil, nil)
	}
	out := Output{Channels: make(map[int64]string, len(in.Deals))}

	type groupKey struct {
		day time.Time
		dim Dimension
		key string
	}
	groups := map[groupKey]*accumulator{}
	labels := map[groupKey]string{}
	get := func(k groupKey, label string) *accumulator {
		a, ok := groups[k]
		if !ok {
			a = &accumulator{counts: map[model.Bucket]int{}}
			groups[k] = a
			labels[k] = label
		}
		return a
	}

	for _, d := range in.Range.Days() {
		get(groupKey{day: d, dim: DimensionAll, key: string(DimensionAll)}, "All")
	}

	h := ref.Heuristics()
	for _, deal := range in.Deals {
		ivs := in.Intervals[deal.ID]
		f := facts{deal: deal}
		f.bucket = currentBucket(deal, ivs, ref.Bucket)
		f.channel = ref.Source(deal.Attribution)
		f.spend = h.CostPerLead(f.channel)
		f.cycleDays = SalesCycleDays(deal, ivs)
		f.responseH, f.hasResponse = FirstResponseHours(deal, ivs)
		f.reachedProp = reachedProposal(f.bucket, ivs)
		out.Channels[deal.ID] = f.channel

		if !in.Range.Contains(deal.CreatedAt) {
			out.OutOfRange++
			continue
		}
		day := model.Day(deal.CreatedAt)
		owner := ref.Owner(deal.OwnerID)

		get(groupKey{day: day, dim: DimensionAll, key: string(DimensionAll)}, "All").add(f)
		get(groupKey{day: day, dim: DimensionOwner, key: strconv.FormatInt(deal.OwnerID, 10)}, owner.Name).add(f)
		get(groupKey{day: day, dim: DimensionChannel, key: f.channel}, f.channel).add(f)
	}

	for k, a := range groups {
		out.Periods = append(out.Periods, a.metric(k.day, k.dim, k.key, labels[k]))
	}
	SortPeriods(out.Periods)

	out.Losses = LossAnalysis(in.Deals, in.Intervals, ref, in.Range)
	out.Activities = ActivityRollup(in.Activities, ref, in.Range)
	return out
}

// SortPeriods orders rows by day, then dimension, then key.
func SortPeriods(rows []PeriodMetric) {
	rank := map[Dimension]int{DimensionAll: 0, DimensionOwner: 1, DimensionChannel: 2}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Dimension != b.Dimension {
			return rank[a.Dimension] < rank[b.Dimension]
		}
		return a.DimensionKey < b.DimensionKey
	})
}

type accumulator struct {
	counts      map[model.Bucket]int
	total       int
	valueSum    float64
	revenue     float64
	pipeline    float64
	spend       float64
	propReached int
	propWon     int
	cycleSum    int
	cycleN      int
	responseSum float64
	responseN   int
}

func (a *accumulator) add(f facts) {
	a.total++
	a.counts[f.bucket]++
	a.valueSum += f.deal.Value
	a.spend += f.spend

	switch f.bucket {
	case model.BucketWon:
		a.revenue += f.deal.Value
	case model.BucketLost:
	default:
		a.pipeline += f.deal.Value
	}
	if f.bucket.Terminal() {
		a.cycleSum += f.cycleDays
		a.cycleN++
	}
	if f.reachedProp {
		a.propReached++
		if f.bucket == model.BucketWon {
			a.propWon++
		}
	}
	if f.hasResponse {
		a.responseSum += f.responseH
		a.responseN++
	}
}

func (a *accumulator) metric(day time.Time, dim Dimension, key, label string) PeriodMetric {
	won := a.counts[model.BucketWon]
	lost := a.counts[model.BucketLost]
	return PeriodMetric{
		Date:             day,
		Dimension:        dim,
		DimensionKey:     key,
		DimensionLabel:   label,
		TotalDeals:       a.total,
		LeadCount:        a.counts[model.BucketLead],
		QualifiedCount:   a.counts[model.BucketQualified],
		MeetingCount:     a.counts[model.BucketMeeting],
		ProposalCount:    a.counts[model.BucketProposal],
		NegotiationCount: a.counts[model.BucketNegotiation],
		OtherCount:       a.counts[model.BucketOther],
		Won:              won,
		Lost:             lost,
		Open:             a.total - won - lost,
		WinRate:          SafeRate(won, won+lost),
		ConversionRate:   SafeRate(won, a.total),
		ProposalWinRate:  SafeRate(a.propWon, a.propReached),
		Revenue:          round2(a.revenue),
		PipelineValue:    round2(a.pipeline),
		AvgDealValue:     round2(SafeDiv(a.valueSum, float64(a.total))),
		AvgWonValue:      round2(SafeDiv(a.revenue, float64(won))),
		AvgCycleDays:     round2(SafeDiv(float64(a.cycleSum), float64(a.cycleN))),
		AvgResponseHours: round2(SafeDiv(a.responseSum, float64(a.responseN))),
		Spend:            round2(a.spend),
		CostPerLead:      round2(SafeDiv(a.spend, float64(a.total))),
		CostEfficiency:   round2(SafeDiv(a.revenue-a.spend, a.spend)),
	}
}
