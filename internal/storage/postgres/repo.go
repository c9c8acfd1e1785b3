// Package postgres implements storage.Repository on pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dashetl/internal/storage"
)

// maxArgs is the Postgres wire protocol limit on bind parameters.
const maxArgs = 65535

/*
Repo implements storage.Repository for Postgres.

Tables live in cfg.Schema when set, otherwise in the connection's
search_path. Key columns carry a UNIQUE constraint and inserts use
ON CONFLICT (...) DO NOTHING, so reloading the same CSV is a no-op.
*/
type Repo struct {
	pool   *pgxpool.Pool
	schema string
}

// New creates a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, schema: cfg.Schema}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	if r.schema != "" {
		if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(r.schema)); err != nil {
			return fmt.Errorf("create schema %s: %w", r.schema, err)
		}
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, buildCreateSQL(r.schema, t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}

		existing, err := r.columns(ctx, t.Name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", t.Name, err)
		}
		for _, c := range t.Missing(existing) {
			q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
				qualify(r.schema, t.Name), columnDef(c, false))
			if _, err := r.pool.Exec(ctx, q); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
			}
		}
	}
	return nil
}

func (r *Repo) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
  AND table_name = $2
ORDER BY ordinal_position`, r.schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// InsertRows inserts in batches inside one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, keyColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	per := max(maxArgs/len(columns), 1)
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(qualify(r.schema, table), columns, rows[start:end], keyColumns)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repo) SelectAll(ctx context.Context, table string, orderBy string) (*storage.Result, error) {
	rows, err := r.pool.Query(ctx, buildSelectSQL(qualify(r.schema, table), orderBy))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := &storage.Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		out.Columns[i] = f.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]*string, len(vals))
		for i, v := range vals {
			row[i] = storage.CellString(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func qualify(schema, table string) string {
	if schema == "" {
		return pgIdent(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func columnDef(c storage.ColumnSpec, key bool) string {
	typ := "TEXT"
	if c.Type == storage.TypeReal {
		typ = "DOUBLE PRECISION"
	}
	def := pgIdent(c.Name) + " " + typ
	if key {
		def += " NOT NULL"
	}
	return def
}

func buildCreateSQL(schema string, t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, t.IsKey(c.Name)))
	}
	if len(t.Key) > 0 {
		defs = append(defs, "UNIQUE ("+joinIdents(t.Key)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", qualify(schema, t.Name), strings.Join(defs, ",\n  "))
}

// buildInsertSQL is pure so placeholder numbering and the conflict clause can
// be tested without a database. table must already be quoted.
func buildInsertSQL(table string, columns []string, rows [][]any, keyColumns []string) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("insert %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(keyColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(keyColumns))
		b.WriteString(") DO NOTHING")
	}
	return b.String(), args, nil
}

func buildSelectSQL(table, orderBy string) string {
	q := "SELECT * FROM " + table
	if orderBy != "" {
		q += " ORDER BY " + pgIdent(orderBy) + " DESC"
	}
	return q
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
