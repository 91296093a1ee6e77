package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/db"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return MigratePostgres(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ReplaceIntervals swaps every stored interval of dealIDs for intervals.
func (s *PostgresStore) ReplaceIntervals(ctx context.Context, dealIDs []int64, intervals []history.Interval) (int64, error) {
	if len(dealIDs) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(intervals))
	for i, iv := range intervals {
		rows[i] = intervalRow(iv)
	}
	res, err := db.Replace(ctx, s.pool, db.ReplaceSpec{
		Table:   "revops.stage_intervals",
		Columns: intervalColumns,
		Where:   "deal_id = ANY($1)",
		Args:    []any{dealIDs},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace intervals")
	}
	return res.Inserted, nil
}

// ReplacePeriodMetrics rewrites every dimension of the days in r.
func (s *PostgresStore) ReplacePeriodMetrics(ctx context.Context, r model.DayRange, rows []metrics.PeriodMetric) (int64, error) {
	out := make([][]any, len(rows))
	for i, m := range rows {
		out[i] = periodRow(m)
	}
	return s.replaceRange(ctx, "revops.period_metrics", "metric_date", periodColumns, r, out)
}

// ReplaceLossBreakdown rewrites the loss rows of the days in r.
func (s *PostgresStore) ReplaceLossBreakdown(ctx context.Context, r model.DayRange, rows []metrics.LossBreakdown) (int64, error) {
	out := make([][]any, len(rows))
	for i, l := range rows {
		out[i] = lossRow(l)
	}
	return s.replaceRange(ctx, "revops.loss_breakdown", "loss_date", lossColumns, r, out)
}

// ReplaceActivityMetrics rewrites the activity rows of the days in r.
func (s *PostgresStore) ReplaceActivityMetrics(ctx context.Context, r model.DayRange, rows []metrics.ActivityMetric) (int64, error) {
	out := make([][]any, len(rows))
	for i, a := range rows {
		out[i] = activityRow(a)
	}
	return s.replaceRange(ctx, "revops.activity_metrics", "activity_date", activityColumns, r, out)
}

func (s *PostgresStore) replaceRange(ctx context.Context, table, dateCol string, cols []string, r model.DayRange, rows [][]any) (int64, error) {
	res, err := db.Replace(ctx, s.pool, db.ReplaceSpec{
		Table:   table,
		Columns: cols,
		Where:   dateCol + " BETWEEN $1 AND $2",
		Args:    []any{model.Day(r.From), model.Day(r.To)},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace %s", table)
	}
	return res.Inserted, nil
}

// RelabelLossReasons rewrites placeholder loss labels once the dictionary names
// them. Loss rows that collide with an existing row for the real label are merged
// into it.
func (s *PostgresStore) RelabelLossReasons(ctx context.Context, labels map[int64]string) (int64, error) {
	targets := relabelTargets(labels, reference.LossReasonPlaceholder)
	if len(targets) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(targets))
	for ph := range targets {
		placeholders = append(placeholders, ph)
	}
	sort.Strings(placeholders)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: relabel: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var total int64
	for _, ph := range placeholders {
		label := targets[ph]

		tag, err := tx.Exec(ctx,
			`UPDATE revops.stage_intervals SET loss_reason = $1 WHERE loss_reason = $2`, label, ph)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: relabel intervals %q", ph)
		}
		total += tag.RowsAffected()

		if _, err := tx.Exec(ctx,
			`UPDATE revops.loss_breakdown t
			 SET avg_cycle_days = (t.avg_cycle_days * t.deal_count + p.avg_cycle_days * p.deal_count) / NULLIF(t.deal_count + p.deal_count, 0),
			     deal_count = t.deal_count + p.deal_count,
			     value_lost = t.value_lost + p.value_lost
			 FROM revops.loss_breakdown p
			 WHERE p.reason = $2 AND t.reason = $1 AND t.loss_date = p.loss_date`, label, ph); err != nil {
			return 0, eris.Wrapf(err, "postgres: merge loss rows %q", ph)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM revops.loss_breakdown p
			 WHERE p.reason = $2 AND EXISTS (
			   SELECT 1 FROM revops.loss_breakdown t WHERE t.reason = $1 AND t.loss_date = p.loss_date)`, label, ph); err != nil {
			return 0, eris.Wrapf(err, "postgres: drop merged loss rows %q", ph)
		}
		tag, err = tx.Exec(ctx,
			`UPDATE revops.loss_breakdown SET reason = $1 WHERE reason = $2`, label, ph)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: relabel loss rows %q", ph)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: relabel: commit tx")
	}
	return total, nil
}

// UpsertForecast replaces the stored forecast of rec.Period.
func (s *PostgresStore) UpsertForecast(ctx context.Context, rec forecast.Record) error {
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "revops.forecasts",
		Columns:      forecastColumns,
		ConflictKeys: []string{"period"},
	}, [][]any{forecastRow(rec)})
	return eris.Wrapf(err, "postgres: upsert forecast %s", rec.Period)
}

// UpsertGap replaces the stored gap analysis of gap.Period.
func (s *PostgresStore) UpsertGap(ctx context.Context, gap forecast.Gap) error {
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "revops.forecast_gaps",
		Columns:      gapColumns,
		ConflictKeys: []string{"period"},
	}, [][]any{gapRow(gap)})
	return eris.Wrapf(err, "postgres: upsert gap %s", gap.Period)
}

// MonthActuals sums the all-deals rows from monthStart through asOf's day.
func (s *PostgresStore) MonthActuals(ctx context.Context, monthStart, asOf time.Time) (forecast.Actuals, error) {
	var a forecast.Actuals
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_deals), 0), COALESCE(SUM(won), 0), COALESCE(SUM(lost), 0), COALESCE(SUM(revenue), 0)
		 FROM revops.period_metrics
		 WHERE dimension = 'all' AND metric_date BETWEEN $1 AND $2`,
		model.Day(monthStart), model.Day(asOf),
	).Scan(&a.Leads, &a.Won, &a.Lost, &a.Revenue)
	if err != nil {
		return a, eris.Wrap(err, "postgres: month actuals")
	}
	return a, nil
}

// MonthlyRevenue returns up to n monthly totals before the month of before,
// oldest first.
func (s *PostgresStore) MonthlyRevenue(ctx context.Context, before time.Time, n int) ([]forecast.MonthTotal, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(date_trunc('month', metric_date), 'YYYY-MM') AS period,
		        COALESCE(SUM(revenue), 0), COALESCE(SUM(total_deals), 0)
		 FROM revops.period_metrics
		 WHERE dimension = 'all' AND metric_date < $1
		 GROUP BY 1 ORDER BY 1 DESC LIMIT $2`,
		forecast.MonthStart(before), n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: monthly revenue")
	}
	defer rows.Close()

	var out []forecast.MonthTotal
	for rows.Next() {
		var m forecast.MonthTotal
		if err := rows.Scan(&m.Period, &m.Revenue, &m.Leads); err != nil {
			return nil, eris.Wrap(err, "postgres: scan monthly revenue")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate monthly revenue")
	}
	reverseTotals(out)
	return out, nil
}

// GetForecast returns the stored forecast of period, or nil when there is none.
func (s *PostgresStore) GetForecast(ctx context.Context, period string) (*forecast.Record, error) {
	var rec forecast.Record
	err := s.pool.QueryRow(ctx,
		"SELECT "+joinColumns(forecastColumns)+" FROM revops.forecasts WHERE period = $1", period,
	).Scan(forecastDest(&rec, plainTime)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get forecast %s", period)
	}
	return &rec, nil
}

// GetGap returns the stored gap analysis of period, or nil when there is none.
func (s *PostgresStore) GetGap(ctx context.Context, period string) (*forecast.Gap, error) {
	var g forecast.Gap
	var risk string
	err := s.pool.QueryRow(ctx,
		"SELECT "+joinColumns(gapColumns)+" FROM revops.forecast_gaps WHERE period = $1", period,
	).Scan(gapDest(&g, &risk, plainTime)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get gap %s", period)
	}
	g.Risk = forecast.Risk(risk)
	return &g, nil
}

// ListPeriodMetrics returns the rows of one dimension in r, ordered by day and key.
func (s *PostgresStore) ListPeriodMetrics(ctx context.Context, r model.DayRange, dim metrics.Dimension) ([]metrics.PeriodMetric, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+joinColumns(periodColumns)+` FROM revops.period_metrics
		 WHERE metric_date BETWEEN $1 AND $2 AND dimension = $3
		 ORDER BY metric_date, dimension_key`,
		model.Day(r.From), model.Day(r.To), string(dim),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list period metrics")
	}
	defer rows.Close()

	var out []metrics.PeriodMetric
	for rows.Next() {
		var m metrics.PeriodMetric
		var d string
		if err := rows.Scan(periodDest(&m, &d, plainTime)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan period metric")
		}
		m.Dimension = metrics.Dimension(d)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate period metrics")
}

// ListLossBreakdown returns the loss rows in r, ordered by day then count.
func (s *PostgresStore) ListLossBreakdown(ctx context.Context, r model.DayRange) ([]metrics.LossBreakdown, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+joinColumns(lossColumns)+` FROM revops.loss_breakdown
		 WHERE loss_date BETWEEN $1 AND $2
		 ORDER BY loss_date, deal_count DESC, reason`,
		model.Day(r.From), model.Day(r.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list loss breakdown")
	}
	defer rows.Close()

	var out []metrics.LossBreakdown
	for rows.Next() {
		var l metrics.LossBreakdown
		if err := rows.Scan(lossDest(&l, plainTime)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan loss breakdown")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate loss breakdown")
}

// ListActivityMetrics returns the activity rows in r, ordered by day and owner.
func (s *PostgresStore) ListActivityMetrics(ctx context.Context, r model.DayRange) ([]metrics.ActivityMetric, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+joinColumns(activityColumns)+` FROM revops.activity_metrics
		 WHERE activity_date BETWEEN $1 AND $2
		 ORDER BY activity_date, owner_id`,
		model.Day(r.From), model.Day(r.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activity metrics")
	}
	defer rows.Close()

	var out []metrics.ActivityMetric
	for rows.Next() {
		var a metrics.ActivityMetric
		if err := rows.Scan(activityDest(&a, plainTime)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity metric")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate activity metrics")
}

// StartRun records the beginning of a pipeline run.
func (s *PostgresStore) StartRun(ctx context.Context, e RunEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO revops.runs (id, run_trigger, status, started_at, as_of, window_from, window_to)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Trigger, string(model.RunStatusRunning), e.StartedAt.UTC(), e.AsOf.UTC(),
		model.Day(e.Window.From), model.Day(e.Window.To),
	)
	return eris.Wrapf(err, "postgres: start run %s", e.ID)
}

// FinishRun stores the final status and summary of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, sum Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	finished := time.Now().UTC()
	if sum.FinishedAt != nil {
		finished = sum.FinishedAt.UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE revops.runs
		 SET status = $1, finished_at = $2, summary = $3, error = NULLIF($4, '')
		 WHERE id = $5`,
		string(sum.Status), finished, payload, sum.Error, sum.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", sum.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: finish run %s: run not found", sum.RunID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_trigger, status, started_at, finished_at, as_of, window_from, window_to, summary, error
		 FROM revops.runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			l        ledgerRow
			finished *time.Time
			errStr   *string
		)
		if err := rows.Scan(&l.id, &l.trigger, &l.status, &l.startedAt, &finished, &l.asOf,
			&l.windowFrom, &l.windowTo, &l.summary, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		l.finishedAt = finished
		if errStr != nil {
			l.errText = *errStr
		}
		out = append(out, l.summaryOf())
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// ledgerRow is a run as stored. The row columns win over the JSON summary.
type ledgerRow struct {
	id, trigger, status  string
	startedAt, asOf      time.Time
	finishedAt           *time.Time
	windowFrom, windowTo time.Time
	summary              []byte
	errText              string
}

func (l ledgerRow) summaryOf() Summary {
	var s Summary
	if len(l.summary) > 0 {
		_ = json.Unmarshal(l.summary, &s)
	}
	s.RunID = l.id
	s.Trigger = l.trigger
	s.Status = model.RunStatus(l.status)
	s.StartedAt = l.startedAt
	s.FinishedAt = l.finishedAt
	s.AsOf = l.asOf
	s.Window = model.DayRange{From: l.windowFrom, To: l.windowTo}
	if l.errText != "" {
		s.Error = l.errText
	}
	return s
}

func reverseTotals(t []forecast.MonthTotal) {
	for i, j := 0, len(t)-1; i < j; i, j = i+1, j-1 {
		t[i], t[j] = t[j], t[i]
	}
}
