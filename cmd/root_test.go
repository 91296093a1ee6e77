package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/revops-cli/internal/config"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/monitoring"
	"github.com/sells-group/revops-cli/internal/reference"
	"github.com/sells-group/revops-cli/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"run", "migrate", "status", "forecast", "serve", "export", "repair-loss-reasons"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "revops", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	assert.Equal(t, "0", runCmd.Flags().Lookup("days").DefValue)
	assert.Equal(t, "cli", runCmd.Flags().Lookup("trigger").DefValue)
	assert.NotNil(t, runCmd.Flags().Lookup("no-forecast"))
	assert.Equal(t, "0", serveCmd.Flags().Lookup("port").DefValue)
	assert.Equal(t, "report.xlsx", exportCmd.Flags().Lookup("out").DefValue)
	assert.Equal(t, "10", statusCmd.Flags().Lookup("limit").DefValue)
	assert.NotNil(t, forecastCmd.Flags().Lookup("as-of"))
	assert.NotNil(t, repairCmd.Flags().Lookup("file"))
}

func withFlags(t *testing.T, days int, from, to string) {
	t.Helper()
	cfg = &config.Config{Extract: config.ExtractConfig{DefaultDays: 7}}
	runDays, runFrom, runTo = days, from, to
	t.Cleanup(func() { runDays, runFrom, runTo = 0, "", "" })
}

func TestRunOptions(t *testing.T) {
	withFlags(t, 0, "", "")
	opts, err := runOptions()
	require.NoError(t, err)
	assert.Equal(t, 7, opts.Days)

	withFlags(t, 3, "2026-10-01", "2026-10-05")
	opts, err = runOptions()
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Days)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), opts.From)
	assert.Equal(t, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), opts.To)

	withFlags(t, 0, "", "2026-10-05")
	_, err = runOptions()
	assert.ErrorContains(t, err, "--to requires --from")

	withFlags(t, 0, "2026-10-05", "2026-10-01")
	_, err = runOptions()
	assert.ErrorContains(t, err, "--to precedes --from")

	withFlags(t, 0, "10/01/2026", "")
	_, err = runOptions()
	assert.ErrorContains(t, err, "parse --from")
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC)
	fin := started.Add(95 * time.Second)
	runs := []store.Summary{
		{RunID: "abc12345-6789-0000-0000-000000000000", Status: model.RunStatusSuccess, Trigger: "cli",
			StartedAt: started, FinishedAt: &fin, Deals: 120, Skipped: 2, ForecastPeriod: "2026-10", Risk: forecast.RiskMedium},
		{RunID: "def12345-6789-0000-0000-000000000000", Status: model.RunStatusFailure, Trigger: "schedule",
			StartedAt: started.Add(-time.Hour), Error: "pipeline: persist intervals: connection reset by peer while writing"},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "2026-10 medium")
	assert.Contains(t, out, "2026-10-15 10:30")
	assert.Contains(t, out, "pipeline: persist intervals: connec...")
}

func TestFormatHealth(t *testing.T) {
	var buf bytes.Buffer
	formatHealth(&buf, &monitoring.MetricsSnapshot{LookbackHours: 24, RunsTotal: 4, RunsFailure: 1, FailureRate: 0.25},
		[]monitoring.Alert{{Severity: "high", Message: "No successful run recorded in the ledger"}})
	out := buf.String()

	assert.Contains(t, out, "Runs (last 24h):")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "ALERT [high] No successful run recorded in the ledger")
}

func TestReadLossReasons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reasons.yaml")
	require.NoError(t, os.WriteFile(path, []byte("42: Price\n43: No budget\n"), 0o644))

	reasons, err := readLossReasons(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.LossReason{{ID: 42, Name: "Price"}, {ID: 43, Name: "No budget"}}, reasons)

	_, err = readLossReasons(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRepairLabels(t *testing.T) {
	labels := repairLabels([]model.LossReason{
		{ID: 42, Name: "Price"},
		{ID: 43, Name: reference.LossReasonPlaceholder(43)},
	})
	assert.Equal(t, map[int64]string{42: "Price"}, labels)
}

// execute runs the CLI against a SQLite store in a temp dir and returns stdout.
func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("REVOPS_STORE_DRIVER", "sqlite")
	t.Setenv("REVOPS_STORE_DATABASE_URL", dbPath)
	t.Setenv("REVOPS_LOG_LEVEL", "error")

	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestMigrateForecastRepairExport(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "revops.db")

	_, err := execute(t, dbPath, "migrate")
	require.NoError(t, err)

	// Seed a placeholder loss row and one day of metrics.
	ctx := t.Context()
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	day := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)
	seed := model.DayRange{From: day, To: day}
	_, err = st.ReplacePeriodMetrics(ctx, seed, samplePeriods(day))
	require.NoError(t, err)
	_, err = st.ReplaceLossBreakdown(ctx, seed, sampleLosses(day))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, dbPath, "forecast", "--as-of", "2026-10-15")
	require.NoError(t, err)
	var fc struct {
		Forecast forecast.Record `json:"forecast"`
		Gap      forecast.Gap    `json:"gap"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &fc))
	assert.Equal(t, "2026-10", fc.Forecast.Period)
	assert.Equal(t, 5, fc.Forecast.ActualLeads)
	assert.InDelta(t, 2000.0, fc.Forecast.ActualRevenue, 0.001)

	reasons := filepath.Join(t.TempDir(), "reasons.yaml")
	require.NoError(t, os.WriteFile(reasons, []byte("42: Price\n"), 0o644))
	out, err = execute(t, dbPath, "repair-loss-reasons", "--file", reasons)
	require.NoError(t, err)
	assert.Contains(t, out, `"rows_updated": 1`)

	xlsxPath := filepath.Join(t.TempDir(), "out.xlsx")
	_, err = execute(t, dbPath, "export", "--days", "3650", "--out", xlsxPath, "--period", "2026-10")
	require.NoError(t, err)
	f, err := xlsx.OpenFile(xlsxPath)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 4)

	out, err = execute(t, dbPath, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"health"`)
}

func TestRunCommand_RequiresCRM(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "revops.db"), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm.base_url is required")
}

func samplePeriods(day time.Time) []metrics.PeriodMetric {
	return []metrics.PeriodMetric{{Date: day, Dimension: metrics.DimensionAll, DimensionKey: "all", DimensionLabel: "All", TotalDeals: 5, Won: 2, Lost: 1, Open: 2, Revenue: 2000}}
}

func sampleLosses(day time.Time) []metrics.LossBreakdown {
	return []metrics.LossBreakdown{{Date: day, Reason: reference.LossReasonPlaceholder(42), Count: 1, ValueLost: 500}}
}
