package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/metrics"
)

// GrowthTier applies Multiplier while DaysRemaining <= MaxDaysRemaining.
type GrowthTier struct {
	MaxDaysRemaining int     `mapstructure:"max_days_remaining" yaml:"max_days_remaining" json:"max_days_remaining"`
	Multiplier       float64 `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
}

// Config holds the business heuristics of the forecast.
type Config struct {
	GrowthTiers         []GrowthTier
	DefaultMultiplier   float64
	DefaultWinRate      float64 // percent
	DefaultDealSize     float64
	DefaultMonthlyLeads float64
	TrendMonths         int
}

// DefaultConfig returns the built-in heuristics.
func DefaultConfig() Config {
	return Config{
		GrowthTiers: []GrowthTier{
			{MaxDaysRemaining: 3, Multiplier: 1.02},
			{MaxDaysRemaining: 7, Multiplier: 1.05},
			{MaxDaysRemaining: 14, Multiplier: 1.10},
		},
		DefaultMultiplier:   1.15,
		DefaultWinRate:      20,
		DefaultDealSize:     3000,
		DefaultMonthlyLeads: 100,
		TrendMonths:         6,
	}
}

// Actuals are the month-to-date observations.
type Actuals struct {
	Leads   int     `json:"leads"`
	Won     int     `json:"won"`
	Lost    int     `json:"lost"`
	Revenue float64 `json:"revenue"`
}

// MonthTotal is the realised revenue of a past month.
type MonthTotal struct {
	Period  string  `json:"period"`
	Revenue float64 `json:"revenue"`
	Leads   int     `json:"leads"`
}

// Projection extrapolates the month-to-date run rate to the whole month.
type Projection struct {
	DailyLeads   float64 `json:"daily_leads"`
	DailyRevenue float64 `json:"daily_revenue"`
	Leads        float64 `json:"leads"`
	Revenue      float64 `json:"revenue"`
	Deals        float64 `json:"deals"`
	WinRate      float64 `json:"win_rate"`
	AvgDealValue float64 `json:"avg_deal_value"`
}

// Engine computes forecasts under one Config.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and orders its growth tiers.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.DefaultMultiplier <= 0 {
		return nil, eris.New("forecast: default multiplier must be positive")
	}
	if cfg.DefaultWinRate < 0 || cfg.DefaultWinRate > 100 {
		return nil, eris.Errorf("forecast: default win rate %.2f outside [0, 100]", cfg.DefaultWinRate)
	}
	if cfg.DefaultDealSize < 0 || cfg.DefaultMonthlyLeads < 0 {
		return nil, eris.New("forecast: default deal size and monthly leads must not be negative")
	}
	tiers := make([]GrowthTier, len(cfg.GrowthTiers))
	copy(tiers, cfg.GrowthTiers)
	for _, t := range tiers {
		if t.Multiplier <= 0 {
			return nil, eris.Errorf("forecast: growth tier %d has non-positive multiplier", t.MaxDaysRemaining)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxDaysRemaining < tiers[j].MaxDaysRemaining })
	cfg.GrowthTiers = tiers
	if cfg.TrendMonths < 2 {
		cfg.TrendMonths = 2
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the validated configuration.
func (e *Engine) Config() Config { return e.cfg }

// Multiplier returns the growth multiplier for the days left in the month.
// It shrinks as the month runs out.
func (e *Engine) Multiplier(daysRemaining int) float64 {
	for _, t := range e.cfg.GrowthTiers {
		if daysRemaining <= t.MaxDaysRemaining {
			return t.Multiplier
		}
	}
	return e.cfg.DefaultMultiplier
}

// Project extrapolates leads and revenue linearly from the run rate.
func (e *Engine) Project(s MonthState, a Actuals) Projection {
	elapsed := float64(s.DaysElapsed)
	p := Projection{
		DailyLeads:   metrics.SafeDiv(float64(a.Leads), elapsed),
		DailyRevenue: metrics.SafeDiv(a.Revenue, elapsed),
		WinRate:      metrics.SafeRate(a.Won, a.Won+a.Lost),
		AvgDealValue: metrics.SafeDiv(a.Revenue, float64(a.Won)),
	}
	p.Leads = p.DailyLeads * float64(s.DaysInMonth)
	p.Revenue = p.DailyRevenue * float64(s.DaysInMonth)
	p.Deals = p.Leads * p.WinRate / 100
	return p
}

// Target sets the month's revenue target. Without revenue to date it falls back to
// the default win rate and deal size applied to the projected (or default) lead volume.
func (e *Engine) Target(s MonthState, a Actuals, p Projection) float64 {
	if a.Revenue <= 0 {
		leads := math.Max(p.Leads, e.cfg.DefaultMonthlyLeads)
		return round2(e.cfg.DefaultWinRate / 100 * e.cfg.DefaultDealSize * leads)
	}
	return round2(a.Revenue + p.DailyRevenue*float64(s.DaysRemaining)*e.Multiplier(s.DaysRemaining))
}

// Record is the stored forecast of one month.
type Record struct {
	Period             string    `json:"period"`
	MonthStart         time.Time `json:"month_start"`
	ComputedAt         time.Time `json:"computed_at"`
	DaysInMonth        int       `json:"days_in_month"`
	DaysElapsed        int       `json:"days_elapsed"`
	DaysRemaining      int       `json:"days_remaining"`
	ActualLeads        int       `json:"actual_leads"`
	ActualWon          int       `json:"actual_won"`
	ActualRevenue      float64   `json:"actual_revenue"`
	TargetRevenue      float64   `json:"target_revenue"`
	TargetFallback     bool      `json:"target_fallback"`
	Multiplier         float64   `json:"multiplier"`
	ProjectedRevenue   float64   `json:"projected_revenue"`
	ProjectedLeads     float64   `json:"projected_leads"`
	ProjectedDeals     float64   `json:"projected_deals"`
	ProjectedWinRate   float64   `json:"projected_win_rate"`
	ProjectedDealValue float64   `json:"projected_deal_value"`
	TrendRevenue       float64   `json:"trend_revenue"`
	TrendSlope         float64   `json:"trend_slope"`
	TrendValid         bool      `json:"trend_valid"`
	BacktestPeriod     string    `json:"backtest_period,omitempty"`
	BacktestAccuracy   float64   `json:"backtest_accuracy"`
}

// Run composes projection, target, gap analysis, trend and back-test. history holds
// realised totals of past months, oldest first; prior is the stored forecast of the
// previous month, if any. The run-rate projection stays authoritative; the trend is
// advisory.
func (e *Engine) Run(s MonthState, a Actuals, history []MonthTotal, prior *Record) (Record, Gap) {
	p := e.Project(s, a)
	target := e.Target(s, a, p)

	rec := Record{
		Period:             s.Period,
		MonthStart:         s.MonthStart,
		ComputedAt:         s.AsOf,
		DaysInMonth:        s.DaysInMonth,
		DaysElapsed:        s.DaysElapsed,
		DaysRemaining:      s.DaysRemaining,
		ActualLeads:        a.Leads,
		ActualWon:          a.Won,
		ActualRevenue:      round2(a.Revenue),
		TargetRevenue:      target,
		TargetFallback:     a.Revenue <= 0,
		Multiplier:         e.Multiplier(s.DaysRemaining),
		ProjectedRevenue:   round2(p.Revenue),
		ProjectedLeads:     round2(p.Leads),
		ProjectedDeals:     round2(p.Deals),
		ProjectedWinRate:   p.WinRate,
		ProjectedDealValue: round2(p.AvgDealValue),
	}

	totals := make([]float64, 0, len(history))
	start := 0
	if len(history) > e.cfg.TrendMonths {
		start = len(history) - e.cfg.TrendMonths
	}
	for _, h := range history[start:] {
		totals = append(totals, h.Revenue)
	}
	if tr := LinearTrend(totals); tr.Valid {
		rec.TrendValid = true
		rec.TrendSlope = round2(tr.Slope)
		rec.TrendRevenue = round2(math.Max(0, tr.Next))
	}

	if prior != nil {
		for _, h := range history {
			if h.Period == prior.Period {
				rec.BacktestPeriod = prior.Period
				rec.BacktestAccuracy = Accuracy(prior.ProjectedRevenue, h.Revenue)
				break
			}
		}
	}

	return rec, e.Gap(s, a, p, target)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
