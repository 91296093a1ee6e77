package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "revops.forecasts",
		Columns:      []string{"period", "target_revenue"},
		ConflictKeys: []string{"period"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "revops.forecasts",
		ConflictKeys: []string{"period"},
	}, [][]any{{"2026-10", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "revops.forecasts",
		Columns: []string{"period", "target_revenue"},
	}, [][]any{{"2026-10", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"period", "target_revenue"}
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_revops_forecasts"}, cols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "revops"."forecasts"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "revops.forecasts",
		Columns:      cols,
		ConflictKeys: []string{"period"},
	}, [][]any{{"2026-10", 1000.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "revops.forecasts",
		Columns:      []string{"period"},
		ConflictKeys: []string{"period"},
	}, [][]any{{"2026-10"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "revops.gaps",
		Columns:      []string{"period", "revenue_gap", "risk"},
		ConflictKeys: []string{"period"},
	}, pgx.Identifier{"_tmp"})
	assert.Equal(t,
		`INSERT INTO "revops"."gaps" ("period", "revenue_gap", "risk") SELECT "period", "revenue_gap", "risk" FROM "_tmp" ON CONFLICT ("period") DO UPDATE SET "revenue_gap" = EXCLUDED."revenue_gap", "risk" = EXCLUDED."risk"`,
		sql)
}

func TestUpsertSQL_OnlyKeys(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "seen",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, pgx.Identifier{"_tmp"})
	assert.Contains(t, sql, "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"revops.stage_intervals", `"revops"."stage_intervals"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
