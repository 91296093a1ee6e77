package store

import (
	"strings"
	"time"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/metrics"
)

// Column lists shared by both backends. Row builders below emit values in the
// same order.
var (
	intervalColumns = []string{
		"deal_id", "pipeline_id", "owner_id", "stage_id", "stage_name", "bucket",
		"entry_at", "exit_at", "duration_hours", "next_stage_id", "transition", "loss_reason",
	}

	periodColumns = []string{
		"metric_date", "dimension", "dimension_key", "dimension_label",
		"total_deals", "lead_count", "qualified_count", "meeting_count", "proposal_count",
		"negotiation_count", "other_count", "won", "lost", "open",
		"win_rate", "conversion_rate", "proposal_win_rate",
		"revenue", "pipeline_value", "avg_deal_value", "avg_won_value",
		"avg_cycle_days", "avg_response_hours",
		"spend", "cost_per_lead", "cost_efficiency",
	}

	lossColumns = []string{
		"loss_date", "reason", "deal_count", "value_lost", "avg_cycle_days", "top_prior_stage",
	}

	activityColumns = []string{
		"activity_date", "owner_id", "owner_name", "total", "completed",
		"calls", "meetings", "emails", "whatsapp", "follow_ups", "proposals", "contacts", "other",
	}

	forecastColumns = []string{
		"period", "month_start", "computed_at", "days_in_month", "days_elapsed", "days_remaining",
		"actual_leads", "actual_won", "actual_revenue", "target_revenue", "target_fallback", "multiplier",
		"projected_revenue", "projected_leads", "projected_deals", "projected_win_rate", "projected_deal_value",
		"trend_revenue", "trend_slope", "trend_valid", "backtest_period", "backtest_accuracy",
	}

	gapColumns = []string{
		"period", "computed_at", "target_revenue", "actual_revenue", "revenue_gap", "leads_gap",
		"win_rate_gap", "required_win_rate", "deal_value_gap", "required_deal_value",
		"required_daily_revenue", "required_daily_leads", "days_remaining", "risk", "alerts", "actions",
	}
)

// dateColumns hold calendar days rather than instants.
var dateColumns = map[string]bool{
	"metric_date":   true,
	"loss_date":     true,
	"activity_date": true,
	"month_start":   true,
	"window_from":   true,
	"window_to":     true,
}

// timeDest adapts a time field to the scan destination a backend needs.
type timeDest func(*time.Time) any

func plainTime(t *time.Time) any { return t }

func intervalRow(iv history.Interval) []any {
	return []any{
		iv.DealID, iv.PipelineID, iv.OwnerID, iv.StageID, iv.StageName, string(iv.Bucket),
		iv.EntryAt.UTC(), iv.ExitAt, iv.DurationHours, iv.NextStageID, string(iv.Class), iv.LossReason,
	}
}

func periodRow(m metrics.PeriodMetric) []any {
	return []any{
		m.Date, string(m.Dimension), m.DimensionKey, m.DimensionLabel,
		m.TotalDeals, m.LeadCount, m.QualifiedCount, m.MeetingCount, m.ProposalCount,
		m.NegotiationCount, m.OtherCount, m.Won, m.Lost, m.Open,
		m.WinRate, m.ConversionRate, m.ProposalWinRate,
		m.Revenue, m.PipelineValue, m.AvgDealValue, m.AvgWonValue,
		m.AvgCycleDays, m.AvgResponseHours,
		m.Spend, m.CostPerLead, m.CostEfficiency,
	}
}

func periodDest(m *metrics.PeriodMetric, dim *string, tm timeDest) []any {
	return []any{
		tm(&m.Date), dim, &m.DimensionKey, &m.DimensionLabel,
		&m.TotalDeals, &m.LeadCount, &m.QualifiedCount, &m.MeetingCount, &m.ProposalCount,
		&m.NegotiationCount, &m.OtherCount, &m.Won, &m.Lost, &m.Open,
		&m.WinRate, &m.ConversionRate, &m.ProposalWinRate,
		&m.Revenue, &m.PipelineValue, &m.AvgDealValue, &m.AvgWonValue,
		&m.AvgCycleDays, &m.AvgResponseHours,
		&m.Spend, &m.CostPerLead, &m.CostEfficiency,
	}
}

func lossRow(l metrics.LossBreakdown) []any {
	return []any{l.Date, l.Reason, l.Count, l.ValueLost, l.AvgCycleDays, l.TopPriorStage}
}

func lossDest(l *metrics.LossBreakdown, tm timeDest) []any {
	return []any{tm(&l.Date), &l.Reason, &l.Count, &l.ValueLost, &l.AvgCycleDays, &l.TopPriorStage}
}

func activityRow(a metrics.ActivityMetric) []any {
	return []any{
		a.Date, a.OwnerID, a.OwnerName, a.Total, a.Completed,
		a.Calls, a.Meetings, a.Emails, a.WhatsApp, a.FollowUps, a.Proposals, a.Contacts, a.Other,
	}
}

func activityDest(a *metrics.ActivityMetric, tm timeDest) []any {
	return []any{
		tm(&a.Date), &a.OwnerID, &a.OwnerName, &a.Total, &a.Completed,
		&a.Calls, &a.Meetings, &a.Emails, &a.WhatsApp, &a.FollowUps, &a.Proposals, &a.Contacts, &a.Other,
	}
}

func forecastRow(r forecast.Record) []any {
	return []any{
		r.Period, r.MonthStart, r.ComputedAt.UTC(), r.DaysInMonth, r.DaysElapsed, r.DaysRemaining,
		r.ActualLeads, r.ActualWon, r.ActualRevenue, r.TargetRevenue, r.TargetFallback, r.Multiplier,
		r.ProjectedRevenue, r.ProjectedLeads, r.ProjectedDeals, r.ProjectedWinRate, r.ProjectedDealValue,
		r.TrendRevenue, r.TrendSlope, r.TrendValid, r.BacktestPeriod, r.BacktestAccuracy,
	}
}

func forecastDest(r *forecast.Record, tm timeDest) []any {
	return []any{
		&r.Period, tm(&r.MonthStart), tm(&r.ComputedAt), &r.DaysInMonth, &r.DaysElapsed, &r.DaysRemaining,
		&r.ActualLeads, &r.ActualWon, &r.ActualRevenue, &r.TargetRevenue, &r.TargetFallback, &r.Multiplier,
		&r.ProjectedRevenue, &r.ProjectedLeads, &r.ProjectedDeals, &r.ProjectedWinRate, &r.ProjectedDealValue,
		&r.TrendRevenue, &r.TrendSlope, &r.TrendValid, &r.BacktestPeriod, &r.BacktestAccuracy,
	}
}

func gapRow(g forecast.Gap) []any {
	return []any{
		g.Period, g.ComputedAt.UTC(), g.TargetRevenue, g.ActualRevenue, g.RevenueGap, g.LeadsGap,
		g.WinRateGap, g.RequiredWinRate, g.DealValueGap, g.RequiredDealValue,
		g.RequiredDailyRevenue, g.RequiredDailyLeads, g.DaysRemaining, string(g.Risk), g.Alerts, g.Actions,
	}
}

func gapDest(g *forecast.Gap, risk *string, tm timeDest) []any {
	return []any{
		&g.Period, tm(&g.ComputedAt), &g.TargetRevenue, &g.ActualRevenue, &g.RevenueGap, &g.LeadsGap,
		&g.WinRateGap, &g.RequiredWinRate, &g.DealValueGap, &g.RequiredDealValue,
		&g.RequiredDailyRevenue, &g.RequiredDailyLeads, &g.DaysRemaining, risk, &g.Alerts, &g.Actions,
	}
}

// relabelTargets lists the placeholders worth rewriting: real labels only, keyed
// by the placeholder they replace.
func relabelTargets(labels map[int64]string, placeholder func(int64) string) map[string]string {
	out := make(map[string]string, len(labels))
	for id, label := range labels {
		if id == 0 || label == "" {
			continue
		}
		ph := placeholder(id)
		if ph == label {
			continue
		}
		out[ph] = label
	}
	return out
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
