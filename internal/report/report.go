// Package report exports persisted metrics and the month forecast as an XLSX workbook.
package report

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetMetrics    = "Metrics"
	SheetLosses     = "Losses"
	SheetActivities = "Activities"
	SheetForecast   = "Forecast"
)

const dateLayout = "2006-01-02"

// Reader is the part of store.Store a report reads.
type Reader interface {
	ListPeriodMetrics(ctx context.Context, r model.DayRange, dim metrics.Dimension) ([]metrics.PeriodMetric, error)
	ListLossBreakdown(ctx context.Context, r model.DayRange) ([]metrics.LossBreakdown, error)
	ListActivityMetrics(ctx context.Context, r model.DayRange) ([]metrics.ActivityMetric, error)
	GetForecast(ctx context.Context, period string) (*forecast.Record, error)
	GetGap(ctx context.Context, period string) (*forecast.Gap, error)
}

// Data is everything one workbook holds.
type Data struct {
	Range      model.DayRange
	Periods    []metrics.PeriodMetric
	Losses     []metrics.LossBreakdown
	Activities []metrics.ActivityMetric
	Forecast   *forecast.Record
	Gap        *forecast.Gap
}

// Load reads the rows of r for every dimension plus the forecast of period.
// A missing forecast leaves the Forecast sheet empty.
func Load(ctx context.Context, rd Reader, r model.DayRange, period string) (*Data, error) {
	d := &Data{Range: r}
	for _, dim := range metrics.Dimensions {
		rows, err := rd.ListPeriodMetrics(ctx, r, dim)
		if err != nil {
			return nil, eris.Wrapf(err, "report: list %s metrics", dim)
		}
		d.Periods = append(d.Periods, rows...)
	}
	metrics.SortPeriods(d.Periods)

	var err error
	if d.Losses, err = rd.ListLossBreakdown(ctx, r); err != nil {
		return nil, eris.Wrap(err, "report: list losses")
	}
	if d.Activities, err = rd.ListActivityMetrics(ctx, r); err != nil {
		return nil, eris.Wrap(err, "report: list activities")
	}
	if period != "" {
		if d.Forecast, err = rd.GetForecast(ctx, period); err != nil {
			return nil, eris.Wrap(err, "report: get forecast")
		}
		if d.Gap, err = rd.GetGap(ctx, period); err != nil {
			return nil, eris.Wrap(err, "report: get gap")
		}
	}
	return d, nil
}

// Build lays d out as a workbook with one sheet per section.
func Build(d *Data) (*xlsx.File, error) {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(SheetMetrics)
	if err != nil {
		return nil, eris.Wrap(err, "report: add metrics sheet")
	}
	header(sheet, "date", "dimension", "key", "label", "total_deals", "lead", "qualified", "meeting",
		"proposal", "negotiation", "other", "won", "lost", "open", "win_rate", "conversion_rate",
		"proposal_win_rate", "revenue", "pipeline_value", "avg_deal_value", "avg_won_value",
		"avg_cycle_days", "avg_response_hours", "spend", "cost_per_lead", "cost_efficiency")
	for _, m := range d.Periods {
		row := sheet.AddRow()
		strCells(row, m.Date.Format(dateLayout), string(m.Dimension), m.DimensionKey, m.DimensionLabel)
		intCells(row, m.TotalDeals, m.LeadCount, m.QualifiedCount, m.MeetingCount, m.ProposalCount,
			m.NegotiationCount, m.OtherCount, m.Won, m.Lost, m.Open)
		floatCells(row, m.WinRate, m.ConversionRate, m.ProposalWinRate, m.Revenue, m.PipelineValue,
			m.AvgDealValue, m.AvgWonValue, m.AvgCycleDays, m.AvgResponseHours, m.Spend, m.CostPerLead,
			m.CostEfficiency)
	}

	if sheet, err = f.AddSheet(SheetLosses); err != nil {
		return nil, eris.Wrap(err, "report: add losses sheet")
	}
	header(sheet, "date", "reason", "count", "value_lost", "avg_cycle_days", "top_prior_stage")
	for _, l := range d.Losses {
		row := sheet.AddRow()
		strCells(row, l.Date.Format(dateLayout), l.Reason)
		intCells(row, l.Count)
		floatCells(row, l.ValueLost, l.AvgCycleDays)
		strCells(row, l.TopPriorStage)
	}

	if sheet, err = f.AddSheet(SheetActivities); err != nil {
		return nil, eris.Wrap(err, "report: add activities sheet")
	}
	header(sheet, "date", "owner_id", "owner", "total", "completed", "calls", "meetings", "emails",
		"whatsapp", "follow_ups", "proposals", "contacts", "other")
	for _, a := range d.Activities {
		row := sheet.AddRow()
		strCells(row, a.Date.Format(dateLayout), strconv.FormatInt(a.OwnerID, 10), a.OwnerName)
		intCells(row, a.Total, a.Completed, a.Calls, a.Meetings, a.Emails, a.WhatsApp, a.FollowUps,
			a.Proposals, a.Contacts, a.Other)
	}

	if sheet, err = f.AddSheet(SheetForecast); err != nil {
		return nil, eris.Wrap(err, "report: add forecast sheet")
	}
	header(sheet, "field", "value")
	forecastRows(sheet, d.Forecast, d.Gap)

	return f, nil
}

// Write builds the workbook and serialises it to w.
func Write(w io.Writer, d *Data) error {
	f, err := Build(d)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write workbook")
}

// Save builds the workbook and writes it to path.
func Save(path string, d *Data) error {
	f, err := Build(d)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func forecastRows(sheet *xlsx.Sheet, rec *forecast.Record, gap *forecast.Gap) {
	kv := func(k string, v any) {
		row := sheet.AddRow()
		strCells(row, k)
		switch x := v.(type) {
		case int:
			intCells(row, x)
		case float64:
			floatCells(row, x)
		case bool:
			row.AddCell().SetBool(x)
		default:
			strCells(row, v.(string))
		}
	}
	if rec != nil {
		kv("period", rec.Period)
		kv("computed_at", rec.ComputedAt.Format("2006-01-02 15:04:05"))
		kv("days_in_month", rec.DaysInMonth)
		kv("days_elapsed", rec.DaysElapsed)
		kv("days_remaining", rec.DaysRemaining)
		kv("actual_leads", rec.ActualLeads)
		kv("actual_won", rec.ActualWon)
		kv("actual_revenue", rec.ActualRevenue)
		kv("target_revenue", rec.TargetRevenue)
		kv("target_fallback", rec.TargetFallback)
		kv("multiplier", rec.Multiplier)
		kv("projected_revenue", rec.ProjectedRevenue)
		kv("projected_leads", rec.ProjectedLeads)
		kv("projected_deals", rec.ProjectedDeals)
		kv("projected_win_rate", rec.ProjectedWinRate)
		kv("projected_deal_value", rec.ProjectedDealValue)
		kv("trend_revenue", rec.TrendRevenue)
		kv("trend_valid", rec.TrendValid)
		if rec.BacktestPeriod != "" {
			kv("backtest_period", rec.BacktestPeriod)
			kv("backtest_accuracy", rec.BacktestAccuracy)
		}
	}
	if gap != nil {
		kv("revenue_gap", gap.RevenueGap)
		kv("leads_gap", gap.LeadsGap)
		kv("required_win_rate", gap.RequiredWinRate)
		kv("required_deal_value", gap.RequiredDealValue)
		kv("required_daily_revenue", gap.RequiredDailyRevenue)
		kv("required_daily_leads", gap.RequiredDailyLeads)
		kv("risk", string(gap.Risk))
		kv("alerts", gap.Alerts)
		kv("actions", gap.Actions)
	}
}

func header(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(strings.ToUpper(n[:1]) + n[1:])
	}
}

func strCells(row *xlsx.Row, vals ...string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func intCells(row *xlsx.Row, vals ...int) {
	for _, v := range vals {
		row.AddCell().SetInt(v)
	}
}

func floatCells(row *xlsx.Row, vals ...float64) {
	for _, v := range vals {
		row.AddCell().SetFloatWithFormat(v, "0.00")
	}
}
