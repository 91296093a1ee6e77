package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func june(day, hour int) time.Time {
	return time.Date(2025, 6, day, hour, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestNewMonthState(t *testing.T) {
	s := NewMonthState(june(15, 12), june(1, 0))
	assert.Equal(t, "2025-06", s.Period)
	assert.Equal(t, 30, s.DaysInMonth)
	assert.Equal(t, 15, s.DaysElapsed)
	assert.Equal(t, 15, s.DaysRemaining)

	first := NewMonthState(june(1, 0), june(20, 0))
	assert.Equal(t, 1, first.DaysElapsed)
	assert.Equal(t, 29, first.DaysRemaining)

	before := NewMonthState(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC), june(1, 0))
	assert.Equal(t, 1, before.DaysElapsed)

	after := NewMonthState(time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), june(1, 0))
	assert.Equal(t, 30, after.DaysElapsed)
	assert.Equal(t, 0, after.DaysRemaining)

	leap := NewMonthState(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 29, leap.DaysInMonth)
}

func TestMonthState_DaysAlwaysSum(t *testing.T) {
	start := time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		asOf := start.AddDate(0, 0, i).Add(7 * time.Hour)
		for _, month := range []time.Time{start, start.AddDate(0, 1, 0)} {
			s := NewMonthState(asOf, month)
			assert.Equal(t, s.DaysInMonth, s.DaysElapsed+s.DaysRemaining, asOf.String())
			assert.GreaterOrEqual(t, s.DaysElapsed, 1)
		}
	}
}

func TestPeriodHelpers(t *testing.T) {
	p, err := ParsePeriod("2025-06")
	require.NoError(t, err)
	assert.Equal(t, june(1, 0), p)
	assert.Equal(t, "2025-05", PreviousPeriod(june(18, 0)))
	assert.Equal(t, "2024-12", PreviousPeriod(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = ParsePeriod("June")
	assert.Error(t, err)
}

func TestMultiplier(t *testing.T) {
	e := newTestEngine(t)
	cases := map[int]float64{0: 1.02, 3: 1.02, 4: 1.05, 7: 1.05, 10: 1.10, 14: 1.10, 15: 1.15, 30: 1.15}
	for days, want := range cases {
		assert.Equal(t, want, e.Multiplier(days), "days remaining %d", days)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultMultiplier = 0
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.DefaultWinRate = 120
	_, err = NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.GrowthTiers = []GrowthTier{{MaxDaysRemaining: 5, Multiplier: 0}}
	_, err = NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.GrowthTiers = []GrowthTier{{MaxDaysRemaining: 10, Multiplier: 1.3}, {MaxDaysRemaining: 2, Multiplier: 1.01}}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.01, e.Multiplier(1))
	assert.Equal(t, 1.3, e.Multiplier(6))
	assert.Len(t, cfg.GrowthTiers, 2)
	assert.Equal(t, 10, cfg.GrowthTiers[0].MaxDaysRemaining, "caller's slice is not reordered")
}

func TestTarget_ZeroRevenueFallback(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(15, 12), june(1, 0))

	a := Actuals{Leads: 30}
	target := e.Target(s, a, e.Project(s, a))
	assert.Equal(t, 60000.0, target)

	a = Actuals{Leads: 90}
	target = e.Target(s, a, e.Project(s, a))
	assert.Equal(t, 108000.0, target)

	a = Actuals{}
	target = e.Target(s, a, e.Project(s, a))
	assert.Greater(t, target, 0.0)
}

func TestRun_RunRate(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(15, 12), june(1, 0))
	a := Actuals{Leads: 30, Won: 5, Lost: 5, Revenue: 15000}

	history := []MonthTotal{
		{Period: "2025-03", Revenue: 1000},
		{Period: "2025-04", Revenue: 2000},
		{Period: "2025-05", Revenue: 3000},
	}
	prior := &Record{Period: "2025-05", ProjectedRevenue: 2500}
	rec, gap := e.Run(s, a, history, prior)

	assert.Equal(t, "2025-06", rec.Period)
	assert.Equal(t, 32250.0, rec.TargetRevenue)
	assert.False(t, rec.TargetFallback)
	assert.Equal(t, 1.15, rec.Multiplier)
	assert.Equal(t, 30000.0, rec.ProjectedRevenue)
	assert.Equal(t, 60.0, rec.ProjectedLeads)
	assert.Equal(t, 30.0, rec.ProjectedDeals)
	assert.Equal(t, 50.0, rec.ProjectedWinRate)
	assert.Equal(t, 3000.0, rec.ProjectedDealValue)
	assert.True(t, rec.TrendValid)
	assert.Equal(t, 1000.0, rec.TrendSlope)
	assert.Equal(t, 4000.0, rec.TrendRevenue)
	assert.Equal(t, "2025-05", rec.BacktestPeriod)
	assert.Equal(t, 80.0, rec.BacktestAccuracy)

	assert.Equal(t, 17250.0, gap.RevenueGap)
	assert.Equal(t, 11.5, gap.LeadsGap)
	assert.Equal(t, 19.17, gap.RequiredWinRate)
	assert.Equal(t, 0.0, gap.WinRateGap)
	assert.Equal(t, 1150.0, gap.RequiredDealValue)
	assert.Equal(t, 0.0, gap.DealValueGap)
	assert.Equal(t, 1150.0, gap.RequiredDailyRevenue)
	assert.Equal(t, 0.77, gap.RequiredDailyLeads)
	assert.Equal(t, RiskCritical, gap.Risk)
	assert.Equal(t, "Revenue gap: 17250.00; Lead gap: 12 leads; Target at critical risk", gap.Alerts)
	assert.Equal(t, "Raise daily revenue to 1150.00; Capture 1 additional leads per day", gap.Actions)
}

func TestRun_NoPriorOrHistory(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(10, 0), june(1, 0))
	rec, _ := e.Run(s, Actuals{Leads: 10, Won: 1, Revenue: 500}, nil, nil)

	assert.False(t, rec.TrendValid)
	assert.Empty(t, rec.BacktestPeriod)
	assert.Zero(t, rec.BacktestAccuracy)

	rec, _ = e.Run(s, Actuals{Leads: 10, Won: 1, Revenue: 500}, []MonthTotal{{Period: "2025-04", Revenue: 10}}, &Record{Period: "2025-05"})
	assert.Empty(t, rec.BacktestPeriod, "no realised total for the prior period")
}

func TestGap_LastDay(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(30, 18), june(1, 0))
	a := Actuals{Leads: 60, Won: 10, Lost: 10, Revenue: 30000}
	p := e.Project(s, a)
	g := e.Gap(s, a, p, e.Target(s, a, p))

	assert.Equal(t, 0, g.DaysRemaining)
	assert.Equal(t, 0.0, g.RevenueGap)
	assert.Equal(t, 0.0, g.RequiredDailyRevenue)
	assert.Equal(t, RiskLow, g.Risk)
	assert.Empty(t, g.Alerts)
	assert.Empty(t, g.Actions)
}

func TestGap_LowWinRate(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(10, 0), june(1, 0))
	a := Actuals{Leads: 100, Won: 1, Lost: 9, Revenue: 1000}
	p := e.Project(s, a)
	g := e.Gap(s, a, p, 50000)

	assert.Contains(t, g.Alerts, "Win rate below baseline: 10.0% vs 20.0%")
	assert.Greater(t, g.DealValueGap, 0.0)
	assert.Contains(t, g.Actions, "Raise average deal value to")
}

func TestGap_NoWinsUsesZeroDenominators(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(15, 12), june(1, 0))
	a := Actuals{Leads: 40, Won: 0, Lost: 5, Revenue: 0}
	p := e.Project(s, a)
	require.Zero(t, p.WinRate)
	require.Zero(t, p.AvgDealValue)

	g := e.Gap(s, a, p, e.Target(s, a, p))

	assert.Equal(t, 60000.0, g.TargetRevenue)
	assert.Equal(t, 60000.0, g.RevenueGap)
	assert.Zero(t, g.LeadsGap)
	assert.Zero(t, g.RequiredWinRate)
	assert.Zero(t, g.RequiredDealValue)
	assert.Zero(t, g.RequiredDailyLeads)
	assert.Equal(t, 4000.0, g.RequiredDailyRevenue)
	assert.Equal(t, RiskCritical, g.Risk)
	assert.Equal(t, "Revenue gap: 60000.00; Target at critical risk", g.Alerts)
	assert.Equal(t, "Raise daily revenue to 4000.00", g.Actions)
}

func TestGap_AheadOfTarget(t *testing.T) {
	e := newTestEngine(t)
	s := NewMonthState(june(15, 12), june(1, 0))
	a := Actuals{Leads: 30, Won: 5, Lost: 5, Revenue: 15000}
	g := e.Gap(s, a, e.Project(s, a), 12000)

	assert.Equal(t, -3000.0, g.RevenueGap)
	assert.Zero(t, g.RequiredDailyRevenue)
	assert.Zero(t, g.RequiredDailyLeads)
	assert.Zero(t, g.LeadsGap)
	assert.Equal(t, RiskLow, g.Risk)
	assert.Empty(t, g.Actions)
}

func TestRiskTier(t *testing.T) {
	tests := []struct {
		gap, target float64
		want        Risk
	}{
		{0, 100, RiskLow},
		{-5, 100, RiskLow},
		{5, 100, RiskLow},
		{10, 100, RiskMedium},
		{15, 100, RiskMedium},
		{20, 100, RiskHigh},
		{29.9, 100, RiskHigh},
		{30, 100, RiskCritical},
		{35, 100, RiskCritical},
		{5, 0, RiskCritical},
		{0, 0, RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskTier(tt.gap, tt.target), "gap=%v target=%v", tt.gap, tt.target)
	}
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 90.0, Accuracy(100, 90))
	assert.Equal(t, 90.0, Accuracy(100, 110))
	assert.Equal(t, 100.0, Accuracy(100, 100))
	assert.Equal(t, 0.0, Accuracy(100, 250))
	assert.Equal(t, 0.0, Accuracy(0, 50))
}

func TestLinearTrend(t *testing.T) {
	tr := LinearTrend([]float64{100, 200, 300})
	require.True(t, tr.Valid)
	assert.InDelta(t, 100.0, tr.Slope, 1e-9)
	assert.InDelta(t, 100.0, tr.Intercept, 1e-9)
	assert.InDelta(t, 400.0, tr.Next, 1e-9)

	flat := LinearTrend([]float64{50, 50})
	assert.True(t, flat.Valid)
	assert.InDelta(t, 0.0, flat.Slope, 1e-9)
	assert.InDelta(t, 50.0, flat.Next, 1e-9)

	assert.False(t, LinearTrend([]float64{5}).Valid)
	assert.False(t, LinearTrend(nil).Valid)
}
