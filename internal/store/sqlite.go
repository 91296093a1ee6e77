package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/history"
	"github.com/sells-group/revops-cli/internal/metrics"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/reference"
)

const (
	sqliteDate      = "2006-01-02"
	sqliteTimestamp = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteChunk     = 500
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS stage_intervals (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	deal_id        INTEGER NOT NULL,
	pipeline_id    INTEGER NOT NULL DEFAULT 0,
	owner_id       INTEGER NOT NULL DEFAULT 0,
	stage_id       INTEGER NOT NULL,
	stage_name     TEXT NOT NULL,
	bucket         TEXT NOT NULL,
	entry_at       TEXT NOT NULL,
	exit_at        TEXT,
	duration_hours REAL NOT NULL DEFAULT 0,
	next_stage_id  INTEGER NOT NULL DEFAULT 0,
	transition     TEXT NOT NULL,
	loss_reason    TEXT NOT NULL DEFAULT '',
	UNIQUE (deal_id, stage_id, entry_at)
);

CREATE TABLE IF NOT EXISTS period_metrics (
	metric_date        TEXT NOT NULL,
	dimension          TEXT NOT NULL,
	dimension_key      TEXT NOT NULL,
	dimension_label    TEXT NOT NULL,
	total_deals        INTEGER NOT NULL DEFAULT 0,
	lead_count         INTEGER NOT NULL DEFAULT 0,
	qualified_count    INTEGER NOT NULL DEFAULT 0,
	meeting_count      INTEGER NOT NULL DEFAULT 0,
	proposal_count     INTEGER NOT NULL DEFAULT 0,
	negotiation_count  INTEGER NOT NULL DEFAULT 0,
	other_count        INTEGER NOT NULL DEFAULT 0,
	won                INTEGER NOT NULL DEFAULT 0,
	lost               INTEGER NOT NULL DEFAULT 0,
	open               INTEGER NOT NULL DEFAULT 0,
	win_rate           REAL NOT NULL DEFAULT 0,
	conversion_rate    REAL NOT NULL DEFAULT 0,
	proposal_win_rate  REAL NOT NULL DEFAULT 0,
	revenue            REAL NOT NULL DEFAULT 0,
	pipeline_value     REAL NOT NULL DEFAULT 0,
	avg_deal_value     REAL NOT NULL DEFAULT 0,
	avg_won_value      REAL NOT NULL DEFAULT 0,
	avg_cycle_days     REAL NOT NULL DEFAULT 0,
	avg_response_hours REAL NOT NULL DEFAULT 0,
	spend              REAL NOT NULL DEFAULT 0,
	cost_per_lead      REAL NOT NULL DEFAULT 0,
	cost_efficiency    REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (metric_date, dimension, dimension_key)
);

CREATE TABLE IF NOT EXISTS loss_breakdown (
	loss_date       TEXT NOT NULL,
	reason          TEXT NOT NULL,
	deal_count      INTEGER NOT NULL DEFAULT 0,
	value_lost      REAL NOT NULL DEFAULT 0,
	avg_cycle_days  REAL NOT NULL DEFAULT 0,
	top_prior_stage TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (loss_date, reason)
);

CREATE TABLE IF NOT EXISTS activity_metrics (
	activity_date TEXT NOT NULL,
	owner_id      INTEGER NOT NULL,
	owner_name    TEXT NOT NULL,
	total         INTEGER NOT NULL DEFAULT 0,
	completed     INTEGER NOT NULL DEFAULT 0,
	calls         INTEGER NOT NULL DEFAULT 0,
	meetings      INTEGER NOT NULL DEFAULT 0,
	emails        INTEGER NOT NULL DEFAULT 0,
	whatsapp      INTEGER NOT NULL DEFAULT 0,
	follow_ups    INTEGER NOT NULL DEFAULT 0,
	proposals     INTEGER NOT NULL DEFAULT 0,
	contacts      INTEGER NOT NULL DEFAULT 0,
	other         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (activity_date, owner_id)
);

CREATE TABLE IF NOT EXISTS forecasts (
	period               TEXT PRIMARY KEY,
	month_start          TEXT NOT NULL,
	computed_at          TEXT NOT NULL,
	days_in_month        INTEGER NOT NULL,
	days_elapsed         INTEGER NOT NULL,
	days_remaining       INTEGER NOT NULL,
	actual_leads         INTEGER NOT NULL DEFAULT 0,
	actual_won           INTEGER NOT NULL DEFAULT 0,
	actual_revenue       REAL NOT NULL DEFAULT 0,
	target_revenue       REAL NOT NULL DEFAULT 0,
	target_fallback      INTEGER NOT NULL DEFAULT 0,
	multiplier           REAL NOT NULL DEFAULT 1,
	projected_revenue    REAL NOT NULL DEFAULT 0,
	projected_leads      REAL NOT NULL DEFAULT 0,
	projected_deals      REAL NOT NULL DEFAULT 0,
	projected_win_rate   REAL NOT NULL DEFAULT 0,
	projected_deal_value REAL NOT NULL DEFAULT 0,
	trend_revenue        REAL NOT NULL DEFAULT 0,
	trend_slope          REAL NOT NULL DEFAULT 0,
	trend_valid          INTEGER NOT NULL DEFAULT 0,
	backtest_period      TEXT NOT NULL DEFAULT '',
	backtest_accuracy    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS forecast_gaps (
	period                 TEXT PRIMARY KEY,
	computed_at            TEXT NOT NULL,
	target_revenue         REAL NOT NULL DEFAULT 0,
	actual_revenue         REAL NOT NULL DEFAULT 0,
	revenue_gap            REAL NOT NULL DEFAULT 0,
	leads_gap              REAL NOT NULL DEFAULT 0,
	win_rate_gap           REAL NOT NULL DEFAULT 0,
	required_win_rate      REAL NOT NULL DEFAULT 0,
	deal_value_gap         REAL NOT NULL DEFAULT 0,
	required_deal_value    REAL NOT NULL DEFAULT 0,
	required_daily_revenue REAL NOT NULL DEFAULT 0,
	required_daily_leads   REAL NOT NULL DEFAULT 0,
	days_remaining         INTEGER NOT NULL DEFAULT 0,
	risk                   TEXT NOT NULL,
	alerts                 TEXT NOT NULL DEFAULT '',
	actions                TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	run_trigger TEXT NOT NULL DEFAULT 'manual',
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	as_of       TEXT NOT NULL,
	window_from TEXT NOT NULL,
	window_to   TEXT NOT NULL,
	summary     TEXT,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_stage_intervals_entry_at ON stage_intervals(entry_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the schema when missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceIntervals(ctx context.Context, dealIDs []int64, intervals []history.Interval) (int64, error) {
	if len(dealIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace intervals: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for start := 0; start < len(dealIDs); start += sqliteChunk {
		end := min(start+sqliteChunk, len(dealIDs))
		chunk := dealIDs[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := "DELETE FROM stage_intervals WHERE deal_id IN (" + placeholders(len(chunk)) + ")"
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, eris.Wrap(err, "sqlite: delete intervals")
		}
	}

	rows := make([][]any, len(intervals))
	for i, iv := range intervals {
		rows[i] = intervalRow(iv)
	}
	n, err := insertRows(ctx, tx, "stage_intervals", intervalColumns, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace intervals: commit tx")
	}
	return n, nil
}

func (s *SQLiteStore) ReplacePeriodMetrics(ctx context.Context, r model.DayRange, rows []metrics.PeriodMetric) (int64, error) {
	out := make([][]any, len(rows))
	for i, m := range rows {
		out[i] = periodRow(m)
	}
	return s.replaceRange(ctx, "period_metrics", "metric_date", periodColumns, r, out)
}

func (s *SQLiteStore) ReplaceLossBreakdown(ctx context.Context, r model.DayRange, rows []metrics.LossBreakdown) (int64, error) {
	out := make([][]any, len(rows))
	for i, l := range rows {
		out[i] = lossRow(l)
	}
	return s.replaceRange(ctx, "loss_breakdown", "loss_date", lossColumns, r, out)
}

func (s *SQLiteStore) ReplaceActivityMetrics(ctx context.Context, r model.DayRange, rows []metrics.ActivityMetric) (int64, error) {
	out := make([][]any, len(rows))
	for i, a := range rows {
		out[i] = activityRow(a)
	}
	return s.replaceRange(ctx, "activity_metrics", "activity_date", activityColumns, r, out)
}

func (s *SQLiteStore) replaceRange(ctx context.Context, table, dateCol string, cols []string, r model.DayRange, rows [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: begin tx", table)
	}
	defer tx.Rollback() //nolint:errcheck

	q := fmt.Sprintf("DELETE FROM %s WHERE %s BETWEEN ? AND ?", table, dateCol)
	if _, err := tx.ExecContext(ctx, q, formatDate(r.From), formatDate(r.To)); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear %s", table)
	}
	n, err := insertRows(ctx, tx, table, cols, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: replace %s: commit tx", table)
	}
	return n, nil
}

func (s *SQLiteStore) RelabelLossReasons(ctx context.Context, labels map[int64]string) (int64, error) {
	targets := relabelTargets(labels, reference.LossReasonPlaceholder)
	if len(targets) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(targets))
	for ph := range targets {
		keys = append(keys, ph)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: relabel: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, ph := range keys {
		label := targets[ph]
		res, err := tx.ExecContext(ctx, `UPDATE stage_intervals SET loss_reason = ? WHERE loss_reason = ?`, label, ph)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: relabel intervals %q", ph)
		}
		total += rowsAffected(res)

		if _, err := tx.ExecContext(ctx,
			`UPDATE loss_breakdown AS t
			 SET avg_cycle_days = (t.avg_cycle_days * t.deal_count + p.avg_cycle_days * p.deal_count) / NULLIF(t.deal_count + p.deal_count, 0),
			     deal_count = t.deal_count + p.deal_count,
			     value_lost = t.value_lost + p.value_lost
			 FROM loss_breakdown AS p
			 WHERE p.reason = ? AND t.reason = ? AND t.loss_date = p.loss_date`, ph, label); err != nil {
			return 0, eris.Wrapf(err, "sqlite: merge loss rows %q", ph)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM loss_breakdown
			 WHERE reason = ? AND loss_date IN (SELECT loss_date FROM loss_breakdown WHERE reason = ?)`, ph, label); err != nil {
			return 0, eris.Wrapf(err, "sqlite: drop merged loss rows %q", ph)
		}
		res, err = tx.ExecContext(ctx, `UPDATE loss_breakdown SET reason = ? WHERE reason = ?`, label, ph)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: relabel loss rows %q", ph)
		}
		total += rowsAffected(res)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: relabel: commit tx")
	}
	return total, nil
}

func (s *SQLiteStore) UpsertForecast(ctx context.Context, rec forecast.Record) error {
	return s.upsert(ctx, "forecasts", forecastColumns, forecastRow(rec))
}

func (s *SQLiteStore) UpsertGap(ctx context.Context, gap forecast.Gap) error {
	return s.upsert(ctx, "forecast_gaps", gapColumns, gapRow(gap))
}

func (s *SQLiteStore) upsert(ctx context.Context, table string, cols []string, row []any) error {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, joinColumns(cols), placeholders(len(cols)), cols[0], strings.Join(sets, ", "))
	_, err := s.db.ExecContext(ctx, q, sqliteArgs(cols, row)...)
	return eris.Wrapf(err, "sqlite: upsert %s", table)
}

func (s *SQLiteStore) MonthActuals(ctx context.Context, monthStart, asOf time.Time) (forecast.Actuals, error) {
	var a forecast.Actuals
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_deals), 0), COALESCE(SUM(won), 0), COALESCE(SUM(lost), 0), COALESCE(SUM(revenue), 0)
		 FROM period_metrics
		 WHERE dimension = 'all' AND metric_date BETWEEN ? AND ?`,
		formatDate(monthStart), formatDate(asOf),
	).Scan(&a.Leads, &a.Won, &a.Lost, &a.Revenue)
	return a, eris.Wrap(err, "sqlite: month actuals")
}

func (s *SQLiteStore) MonthlyRevenue(ctx context.Context, before time.Time, n int) ([]forecast.MonthTotal, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(metric_date, 1, 7) AS period,
		        COALESCE(SUM(revenue), 0), COALESCE(SUM(total_deals), 0)
		 FROM period_metrics
		 WHERE dimension = 'all' AND metric_date < ?
		 GROUP BY period ORDER BY period DESC LIMIT ?`,
		formatDate(forecast.MonthStart(before)), n,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: monthly revenue")
	}
	defer rows.Close()

	var out []forecast.MonthTotal
	for rows.Next() {
		var m forecast.MonthTotal
		if err := rows.Scan(&m.Period, &m.Revenue, &m.Leads); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan monthly revenue")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate monthly revenue")
	}
	reverseTotals(out)
	return out, nil
}

func (s *SQLiteStore) GetForecast(ctx context.Context, period string) (*forecast.Record, error) {
	var rec forecast.Record
	err := s.db.QueryRowContext(ctx,
		"SELECT "+joinColumns(forecastColumns)+" FROM forecasts WHERE period = ?", period,
	).Scan(forecastDest(&rec, sqliteTimeDest)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get forecast %s", period)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetGap(ctx context.Context, period string) (*forecast.Gap, error) {
	var g forecast.Gap
	var risk string
	err := s.db.QueryRowContext(ctx,
		"SELECT "+joinColumns(gapColumns)+" FROM forecast_gaps WHERE period = ?", period,
	).Scan(gapDest(&g, &risk, sqliteTimeDest)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get gap %s", period)
	}
	g.Risk = forecast.Risk(risk)
	return &g, nil
}

func (s *SQLiteStore) ListPeriodMetrics(ctx context.Context, r model.DayRange, dim metrics.Dimension) ([]metrics.PeriodMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+joinColumns(periodColumns)+` FROM period_metrics
		 WHERE metric_date BETWEEN ? AND ? AND dimension = ?
		 ORDER BY metric_date, dimension_key`,
		formatDate(r.From), formatDate(r.To), string(dim),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list period metrics")
	}
	defer rows.Close()

	var out []metrics.PeriodMetric
	for rows.Next() {
		var m metrics.PeriodMetric
		var d string
		if err := rows.Scan(periodDest(&m, &d, sqliteTimeDest)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan period metric")
		}
		m.Dimension = metrics.Dimension(d)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate period metrics")
}

func (s *SQLiteStore) ListLossBreakdown(ctx context.Context, r model.DayRange) ([]metrics.LossBreakdown, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+joinColumns(lossColumns)+` FROM loss_breakdown
		 WHERE loss_date BETWEEN ? AND ?
		 ORDER BY loss_date, deal_count DESC, reason`,
		formatDate(r.From), formatDate(r.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list loss breakdown")
	}
	defer rows.Close()

	var out []metrics.LossBreakdown
	for rows.Next() {
		var l metrics.LossBreakdown
		if err := rows.Scan(lossDest(&l, sqliteTimeDest)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan loss breakdown")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate loss breakdown")
}

func (s *SQLiteStore) ListActivityMetrics(ctx context.Context, r model.DayRange) ([]metrics.ActivityMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+joinColumns(activityColumns)+` FROM activity_metrics
		 WHERE activity_date BETWEEN ? AND ?
		 ORDER BY activity_date, owner_id`,
		formatDate(r.From), formatDate(r.To),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activity metrics")
	}
	defer rows.Close()

	var out []metrics.ActivityMetric
	for rows.Next() {
		var a metrics.ActivityMetric
		if err := rows.Scan(activityDest(&a, sqliteTimeDest)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity metric")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate activity metrics")
}

func (s *SQLiteStore) StartRun(ctx context.Context, e RunEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_trigger, status, started_at, as_of, window_from, window_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Trigger, string(model.RunStatusRunning), formatTimestamp(e.StartedAt), formatTimestamp(e.AsOf),
		formatDate(e.Window.From), formatDate(e.Window.To),
	)
	return eris.Wrapf(err, "sqlite: start run %s", e.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, sum Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	finished := time.Now()
	if sum.FinishedAt != nil {
		finished = *sum.FinishedAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, summary = ?, error = NULLIF(?, '') WHERE id = ?`,
		string(sum.Status), formatTimestamp(finished), string(payload), sum.Error, sum.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", sum.RunID)
	}
	if rowsAffected(res) == 0 {
		return eris.Errorf("sqlite: finish run %s: run not found", sum.RunID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_trigger, status, started_at, finished_at, as_of, window_from, window_to, summary, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			l        ledgerRow
			finished sqliteTime
			summary  sql.NullString
			errStr   sql.NullString
		)
		if err := rows.Scan(&l.id, &l.trigger, &l.status, sqliteTimeDest(&l.startedAt), &finished,
			sqliteTimeDest(&l.asOf), sqliteTimeDest(&l.windowFrom), sqliteTimeDest(&l.windowTo), &summary, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if finished.valid {
			t := *finished.t
			l.finishedAt = &t
		}
		l.summary = []byte(summary.String)
		l.errText = errStr.String
		out = append(out, l.summaryOf())
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// insertRows writes rows one prepared statement at a time inside tx.
func insertRows(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, joinColumns(cols), placeholders(len(cols))))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare insert into %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(cols, row)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert into %s", table)
		}
		n++
	}
	return n, nil
}

// sqliteArgs renders time values as sortable text: calendar days for date
// columns, fixed-width UTC timestamps otherwise.
func sqliteArgs(cols []string, row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case time.Time:
			if dateColumns[cols[i]] {
				out[i] = formatDate(t)
			} else {
				out[i] = formatTimestamp(t)
			}
		case *time.Time:
			if t == nil {
				out[i] = nil
			} else {
				out[i] = formatTimestamp(*t)
			}
		default:
			out[i] = v
		}
	}
	return out
}

func formatDate(t time.Time) string      { return model.Day(t).Format(sqliteDate) }
func formatTimestamp(t time.Time) string { return t.UTC().Format(sqliteTimestamp) }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// sqliteTime scans either a driver-parsed time or one of the text layouts this
// store writes.
type sqliteTime struct {
	t     *time.Time
	valid bool
}

func sqliteTimeDest(t *time.Time) any { return &sqliteTime{t: t} }

func (s *sqliteTime) Scan(src any) error {
	if s.t == nil {
		var t time.Time
		s.t = &t
	}
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
		s.valid = false
		return nil
	case time.Time:
		*s.t = v.UTC()
	case string:
		parsed, err := parseSQLiteTime(v)
		if err != nil {
			return err
		}
		*s.t = parsed
	case []byte:
		parsed, err := parseSQLiteTime(string(v))
		if err != nil {
			return err
		}
		*s.t = parsed
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
	s.valid = true
	return nil
}

func parseSQLiteTime(v string) (time.Time, error) {
	for _, layout := range []string{sqliteTimestamp, time.RFC3339Nano, sqliteDate, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("sqlite: unrecognised time %q", v)
}
