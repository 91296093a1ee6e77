package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/store"
)

func day(d int) time.Time {
	return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC)
}

func sampleData() *Data {
	return &Data{
		Range: model.DayRange{From: day(1), To: day(2)},
		Periods: []metrics.PeriodMetric{
			{Date: day(1), Dimension: metrics.DimensionAll, DimensionKey: "all", DimensionLabel: "All", TotalDeals: 3, Won: 1, Lost: 1, Open: 1, Revenue: 1000, WinRate: 50},
			{Date: day(1), Dimension: metrics.DimensionChannel, DimensionKey: "Google Ads", DimensionLabel: "Google Ads", TotalDeals: 1, Won: 1, Revenue: 1000},
		},
		Losses: []metrics.LossBreakdown{
			{Date: day(2), Reason: "Price", Count: 1, ValueLost: 700, AvgCycleDays: 1, TopPriorStage: "Novo lead"},
		},
		Activities: []metrics.ActivityMetric{
			{Date: day(1), OwnerID: 7, OwnerName: "Ana", Total: 4, Completed: 3, Calls: 2, Other: 2},
		},
		Forecast: &forecast.Record{Period: "2026-10", DaysInMonth: 31, DaysElapsed: 2, DaysRemaining: 29, ActualLeads: 3, ActualRevenue: 1000, TargetRevenue: 15000},
		Gap:      &forecast.Gap{Period: "2026-10", RevenueGap: 14000, Risk: forecast.RiskCritical, Alerts: "Revenue gap above 30%"},
	}
}

func cells(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.Value
	}
	return out
}

func fieldValue(t *testing.T, sheet *xlsx.Sheet, field string) string {
	t.Helper()
	for _, row := range sheet.Rows[1:] {
		if row.Cells[0].Value == field {
			return row.Cells[1].Value
		}
	}
	t.Fatalf("field %q not in forecast sheet", field)
	return ""
}

func TestSaveAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, Save(path, sampleData()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)
	assert.Equal(t, []string{SheetMetrics, SheetLosses, SheetActivities, SheetForecast},
		[]string{f.Sheets[0].Name, f.Sheets[1].Name, f.Sheets[2].Name, f.Sheets[3].Name})

	metricsSheet := f.Sheet[SheetMetrics]
	require.Len(t, metricsSheet.Rows, 3)
	assert.Equal(t, "Date", metricsSheet.Rows[0].Cells[0].Value)
	first := cells(metricsSheet.Rows[1])
	assert.Equal(t, []string{"2026-10-01", "all", "all", "All", "3"}, first[:5])
	won, err := metricsSheet.Rows[1].Cells[11].Int()
	require.NoError(t, err)
	assert.Equal(t, 1, won)
	revenue, err := metricsSheet.Rows[1].Cells[17].Float()
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, revenue, 0.001)

	losses := f.Sheet[SheetLosses]
	require.Len(t, losses.Rows, 2)
	assert.Equal(t, "Price", losses.Rows[1].Cells[1].Value)
	assert.Equal(t, "Novo lead", losses.Rows[1].Cells[5].Value)

	acts := f.Sheet[SheetActivities]
	require.Len(t, acts.Rows, 2)
	assert.Equal(t, []string{"2026-10-01", "7", "Ana", "4", "3"}, cells(acts.Rows[1])[:5])

	fc := f.Sheet[SheetForecast]
	assert.Equal(t, "2026-10", fieldValue(t, fc, "period"))
	assert.Equal(t, "29", fieldValue(t, fc, "days_remaining"))
	assert.Equal(t, "critical", fieldValue(t, fc, "risk"))
}

func TestWrite_EmptyData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Data{}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 4)
	assert.Len(t, f.Sheet[SheetForecast].Rows, 1, "header only")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	d := sampleData()
	_, err = st.ReplacePeriodMetrics(ctx, d.Range, d.Periods)
	require.NoError(t, err)
	_, err = st.ReplaceLossBreakdown(ctx, d.Range, d.Losses)
	require.NoError(t, err)
	_, err = st.ReplaceActivityMetrics(ctx, d.Range, d.Activities)
	require.NoError(t, err)
	require.NoError(t, st.UpsertForecast(ctx, *d.Forecast))
	require.NoError(t, st.UpsertGap(ctx, *d.Gap))

	got, err := Load(ctx, st, d.Range, "2026-10")
	require.NoError(t, err)
	require.Len(t, got.Periods, 2)
	assert.Equal(t, metrics.DimensionAll, got.Periods[0].Dimension)
	assert.Equal(t, metrics.DimensionChannel, got.Periods[1].Dimension)
	require.Len(t, got.Losses, 1)
	require.Len(t, got.Activities, 1)
	require.NotNil(t, got.Forecast)
	assert.InDelta(t, 15000.0, got.Forecast.TargetRevenue, 0.001)
	require.NotNil(t, got.Gap)
	assert.Equal(t, forecast.RiskCritical, got.Gap.Risk)

	none, err := Load(ctx, st, d.Range, "")
	require.NoError(t, err)
	assert.Nil(t, none.Forecast)
}
