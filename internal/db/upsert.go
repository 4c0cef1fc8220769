package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one directory-seeding upsert. The only caller
// today is the companies import, so the knobs are shaped around it:
// re-imports must never blank out enrichment a prior import carried.
type UpsertConfig struct {
	// Table is the target, optionally schema-qualified ("portfolio.companies").
	Table string

	// Columns lists every column present in each staged row.
	Columns []string

	// ConflictKeys are the natural-key columns of the target table.
	ConflictKeys []string

	// PreserveOnEmpty names columns that keep their existing value when
	// the incoming row carries an empty string. Legacy company sheets
	// often omit aka and website; a blank cell must not erase data a
	// fuller sheet wrote earlier.
	PreserveOnEmpty []string

	// Touch, when set, names a timestamp column stamped with now() on
	// every conflicting row (typically "updated_at").
	Touch string
}

// BulkUpsert stages rows into a transaction-scoped table via COPY, then
// folds them into the target with a single INSERT ... ON CONFLICT DO
// UPDATE. Returns the number of rows written (inserted or updated).
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	stage := "_stage_" + strings.ReplaceAll(cfg.Table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(),
		qualifyTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create stage table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into stage table for %s", cfg.Table)
	}

	colList := identList(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		qualifyTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{stage}.Sanitize(),
		identList(cfg.ConflictKeys),
		cfg.setClause(),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// setClause builds the DO UPDATE assignments: every non-key column is
// overwritten from the incoming row, except that PreserveOnEmpty
// columns keep the existing value when the incoming one is empty, and
// Touch is stamped server-side.
func (cfg UpsertConfig) setClause() string {
	isKey := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		isKey[k] = true
	}
	preserve := make(map[string]bool, len(cfg.PreserveOnEmpty))
	for _, c := range cfg.PreserveOnEmpty {
		preserve[c] = true
	}

	var assigns []string
	for _, col := range cfg.Columns {
		if isKey[col] || col == cfg.Touch {
			continue
		}
		q := pgx.Identifier{col}.Sanitize()
		if preserve[col] {
			assigns = append(assigns, fmt.Sprintf(
				"%s = CASE WHEN EXCLUDED.%s <> '' THEN EXCLUDED.%s ELSE t.%s END", q, q, q, q))
			continue
		}
		assigns = append(assigns, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if cfg.Touch != "" {
		assigns = append(assigns, fmt.Sprintf("%s = now()", pgx.Identifier{cfg.Touch}.Sanitize()))
	}
	return strings.Join(assigns, ", ")
}

// qualifyTable quotes a possibly schema-qualified table name.
func qualifyTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// identList quotes each identifier and joins with commas.
func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
