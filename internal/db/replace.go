package db

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// ReplaceSpec describes a delete-then-reinsert of every row matching Where.
type ReplaceSpec struct {
	Table   string   // target table, e.g. "revops.period_metrics"
	Columns []string // columns supplied for each inserted row
	Where   string   // predicate selecting the rows being replaced, with $n placeholders
	Args    []any    // arguments for Where
}

// ReplaceResult reports how many rows a Replace removed and wrote.
type ReplaceResult struct {
	Deleted  int64
	Inserted int64
}

// Replace deletes the rows selected by spec.Where and inserts rows via COPY in a
// single transaction, so readers never observe a half-replaced key range.
// An empty rows slice still clears the range.
func Replace(ctx context.Context, pool Pool, spec ReplaceSpec, rows [][]any) (ReplaceResult, error) {
	var res ReplaceResult
	if spec.Where == "" {
		return res, eris.New("db: replace: refusing to replace without a predicate")
	}
	if len(rows) > 0 && len(spec.Columns) == 0 {
		return res, eris.New("db: replace: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", sanitizeTable(spec.Table), spec.Where), spec.Args...)
	if err != nil {
		return res, eris.Wrapf(err, "db: replace: delete from %s", spec.Table)
	}
	res.Deleted = tag.RowsAffected()

	if len(rows) > 0 {
		n, err := CopyFrom(ctx, tx, spec.Table, spec.Columns, rows)
		if err != nil {
			return res, eris.Wrap(err, "db: replace")
		}
		res.Inserted = n
	}

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "db: replace: commit tx")
	}
	return res, nil
}
