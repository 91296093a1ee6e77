// Package store persists reconstructed intervals, daily metrics, forecasts and the
// run ledger. Postgres is the primary backend; SQLite serves local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
)

// RunEntry opens a ledger row for one pipeline run.
type RunEntry struct {
	ID        string         `json:"id"`
	Trigger   string         `json:"trigger"`
	StartedAt time.Time      `json:"started_at"`
	AsOf      time.Time      `json:"as_of"`
	Window    model.DayRange `json:"window"`
}

// Summary is the outcome of one run as recorded in the ledger.
type Summary struct {
	RunID      string             `json:"run_id"`
	Trigger    string             `json:"trigger,omitempty"`
	Status     model.RunStatus    `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	AsOf       time.Time          `json:"as_of"`
	Window     model.DayRange     `json:"window"`
	Entities   []crm.EntityReport `json:"entities,omitempty"`

	Extracted     int            `json:"extracted"`
	Deals         int            `json:"deals"`
	Reconstructed int            `json:"reconstructed"`
	Skipped       int            `json:"skipped"`
	SkipReasons   map[string]int `json:"skip_reasons,omitempty"`
	Anomalies     int            `json:"anomalies"`

	IntervalsWritten int64 `json:"intervals_written"`
	PeriodRows       int64 `json:"period_rows"`
	LossRows         int64 `json:"loss_rows"`
	ActivityRows     int64 `json:"activity_rows"`

	// Writes left undone because an entity they derive from failed to extract.
	Withheld []string `json:"withheld,omitempty"`

	ForecastPeriod string        `json:"forecast_period,omitempty"`
	Risk           forecast.Risk `json:"risk,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Duration returns the wall time of a finished run, or 0 while it is running.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Store defines the persistence interface of the pipeline and the read API.
type Store interface {
	// Reconstruction
	ReplaceIntervals(ctx context.Context, dealIDs []int64, intervals []history.Interval) (int64, error)

	// Aggregates; each call replaces the whole day range.
	ReplacePeriodMetrics(ctx context.Context, r model.DayRange, rows []metrics.PeriodMetric) (int64, error)
	ReplaceLossBreakdown(ctx context.Context, r model.DayRange, rows []metrics.LossBreakdown) (int64, error)
	ReplaceActivityMetrics(ctx context.Context, r model.DayRange, rows []metrics.ActivityMetric) (int64, error)
	RelabelLossReasons(ctx context.Context, labels map[int64]string) (int64, error)

	// Forecast
	UpsertForecast(ctx context.Context, rec forecast.Record) error
	UpsertGap(ctx context.Context, gap forecast.Gap) error
	MonthActuals(ctx context.Context, monthStart, asOf time.Time) (forecast.Actuals, error)
	MonthlyRevenue(ctx context.Context, before time.Time, n int) ([]forecast.MonthTotal, error)
	GetForecast(ctx context.Context, period string) (*forecast.Record, error)
	GetGap(ctx context.Context, period string) (*forecast.Gap, error)

	// Reads
	ListPeriodMetrics(ctx context.Context, r model.DayRange, dim metrics.Dimension) ([]metrics.PeriodMetric, error)
	ListLossBreakdown(ctx context.Context, r model.DayRange) ([]metrics.LossBreakdown, error)
	ListActivityMetrics(ctx context.Context, r model.DayRange) ([]metrics.ActivityMetric, error)

	// Run ledger
	StartRun(ctx context.Context, entry RunEntry) error
	FinishRun(ctx context.Context, s Summary) error
	ListRuns(ctx context.Context, limit int) ([]Summary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the backend named by driver. An empty driver means Postgres.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "", DriverPostgres:
		s, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
