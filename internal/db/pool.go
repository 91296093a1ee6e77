// Package db provides shared Postgres helpers: the pool abstraction, bulk upsert,
// COPY ingestion and range replacement.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool used by this module. pgxmock.PgxPoolIface
// satisfies it, which keeps every caller testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Identifier splits a possibly schema-qualified table name into a pgx.Identifier.
func Identifier(table string) pgx.Identifier {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return pgx.Identifier{table[:i], table[i+1:]}
		}
	}
	return pgx.Identifier{table}
}
