// Package sqlite implements storage.Repository on modernc.org/sqlite.
//
// SQLite has no schemas, so Config.Schema is ignored. Key columns get a
// UNIQUE constraint at creation time and inserts use INSERT OR IGNORE.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"dashetl/internal/storage"
)

// maxArgs bounds bind parameters per statement; older SQLite builds cap
// them at 999.
const maxArgs = 999

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a file path or ":memory:").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, buildCreateSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}

		existing, err := r.columns(ctx, t.Name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", t.Name, err)
		}
		for _, c := range t.Missing(existing) {
			q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", sqlIdent(t.Name), columnDef(c, false))
			if _, err := r.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
			}
		}
	}
	return nil
}

func (r *Repo) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// InsertRows writes all batches in one transaction. keyColumns is not used
// in the statement: OR IGNORE relies on the UNIQUE constraint created by
// EnsureTables.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, keyColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := maxArgs / len(columns)
	if per < 1 {
		per = 1
	}
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(table, columns, rows[start:end], len(keyColumns) > 0)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repo) SelectAll(ctx context.Context, table string, orderBy string) (*storage.Result, error) {
	q := "SELECT * FROM " + sqlIdent(table)
	if orderBy != "" {
		q += " ORDER BY " + sqlIdent(orderBy) + " DESC"
	}
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) (*storage.Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &storage.Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]*string, len(cols))
		for i, v := range vals {
			row[i] = storage.CellString(v)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnType(t storage.ColumnType) string {
	if t == storage.TypeReal {
		return "REAL"
	}
	return "TEXT"
}

func columnDef(c storage.ColumnSpec, key bool) string {
	def := sqlIdent(c.Name) + " " + columnType(c.Type)
	if key {
		def += " NOT NULL"
	}
	return def
}

func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, t.IsKey(c.Name)))
	}
	if len(t.Key) > 0 {
		keys := make([]string, len(t.Key))
		for i, k := range t.Key {
			keys[i] = sqlIdent(k)
		}
		defs = append(defs, "UNIQUE ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlIdent(t.Name), strings.Join(defs, ",\n  "))
}

func buildInsertSQL(table string, columns []string, rows [][]any, ignore bool) (string, []any, error) {
	var b strings.Builder
	if ignore {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args, nil
}
