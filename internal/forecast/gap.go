package forecast

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/revops-cli/internal/metrics"
)

// Risk is the severity of a gap relative to its target.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// RiskTier grades gap/target. A non-positive gap is always low; a positive gap
// against a non-positive target is critical.
func RiskTier(gap, target float64) Risk {
	if gap <= 0 {
		return RiskLow
	}
	if target <= 0 {
		return RiskCritical
	}
	switch r := gap / target; {
	case r < 0.10:
		return RiskLow
	case r < 0.20:
		return RiskMedium
	case r < 0.30:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Gap is the stored gap analysis of one month.
type Gap struct {
	Period               string    `json:"period"`
	ComputedAt           time.Time `json:"computed_at"`
	TargetRevenue        float64   `json:"target_revenue"`
	ActualRevenue        float64   `json:"actual_revenue"`
	RevenueGap           float64   `json:"revenue_gap"`
	LeadsGap             float64   `json:"leads_gap"`
	WinRateGap           float64   `json:"win_rate_gap"`
	RequiredWinRate      float64   `json:"required_win_rate"`
	DealValueGap         float64   `json:"deal_value_gap"`
	RequiredDealValue    float64   `json:"required_deal_value"`
	RequiredDailyRevenue float64   `json:"required_daily_revenue"`
	RequiredDailyLeads   float64   `json:"required_daily_leads"`
	DaysRemaining        int       `json:"days_remaining"`
	Risk                 Risk      `json:"risk"`
	Alerts               string    `json:"alerts"`
	Actions              string    `json:"actions"`
}

// Gap analyses the distance between actuals and target using the month's current
// win rate and average deal value. Every ratio is guarded and yields 0 on a zero
// denominator, so a month without wins has no lead or deal-value requirement.
func (e *Engine) Gap(s MonthState, a Actuals, p Projection, target float64) Gap {
	g := Gap{
		Period:        s.Period,
		ComputedAt:    s.AsOf,
		TargetRevenue: target,
		ActualRevenue: round2(a.Revenue),
		RevenueGap:    round2(target - a.Revenue),
		DaysRemaining: s.DaysRemaining,
	}
	g.Risk = RiskTier(g.RevenueGap, target)

	winRate := p.WinRate
	dealValue := p.AvgDealValue

	remaining := float64(s.DaysRemaining)
	if g.RevenueGap > 0 {
		g.LeadsGap = round2(metrics.SafeDiv(g.RevenueGap, winRate/100*dealValue))

		remainingLeads := p.DailyLeads * remaining
		dealsNeeded := metrics.SafeDiv(g.RevenueGap, dealValue)
		g.RequiredWinRate = round2(metrics.SafeDiv(dealsNeeded, remainingLeads) * 100)
		g.WinRateGap = round2(math.Max(0, g.RequiredWinRate-p.WinRate))

		expectedDeals := remainingLeads * winRate / 100
		g.RequiredDealValue = round2(metrics.SafeDiv(g.RevenueGap, expectedDeals))
		g.DealValueGap = round2(math.Max(0, g.RequiredDealValue-p.AvgDealValue))

		if s.DaysRemaining > 0 {
			g.RequiredDailyRevenue = round2(g.RevenueGap / remaining)
			g.RequiredDailyLeads = round2(g.LeadsGap / remaining)
		}
	}

	g.Alerts, g.Actions = e.narrative(g, p)
	return g
}

func (e *Engine) narrative(g Gap, p Projection) (string, string) {
	var alerts, actions []string
	if g.RevenueGap > 0 {
		alerts = append(alerts, fmt.Sprintf("Revenue gap: %.2f", g.RevenueGap))
	}
	if g.LeadsGap > 0 {
		alerts = append(alerts, fmt.Sprintf("Lead gap: %.0f leads", math.Ceil(g.LeadsGap)))
	}
	if p.WinRate > 0 && p.WinRate < e.cfg.DefaultWinRate {
		alerts = append(alerts, fmt.Sprintf("Win rate below baseline: %.1f%% vs %.1f%%", p.WinRate, e.cfg.DefaultWinRate))
	}
	if g.Risk == RiskCritical {
		alerts = append(alerts, "Target at critical risk")
	}

	if g.RequiredDailyRevenue > 0 {
		actions = append(actions, fmt.Sprintf("Raise daily revenue to %.2f", g.RequiredDailyRevenue))
	}
	if g.RequiredDailyLeads > 0 {
		actions = append(actions, fmt.Sprintf("Capture %.0f additional leads per day", math.Ceil(g.RequiredDailyLeads)))
	}
	if g.WinRateGap > 0 && g.RequiredWinRate <= 100 {
		actions = append(actions, fmt.Sprintf("Lift win rate to %.1f%%", g.RequiredWinRate))
	}
	if g.DealValueGap > 0 {
		actions = append(actions, fmt.Sprintf("Raise average deal value to %.2f", g.RequiredDealValue))
	}
	return strings.Join(alerts, "; "), strings.Join(actions, "; ")
}
