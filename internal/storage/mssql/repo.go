// Package mssql implements storage.Repository for Microsoft SQL Server.
//
// Inserts are set-based INSERT ... SELECT ... WHERE NOT EXISTS. Unlike
// Postgres ON CONFLICT, SQL Server does not collapse duplicate keys inside
// one VALUES source, so each batch is deduplicated first (first occurrence
// wins).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dashetl/internal/storage"
)

// maxArgs stays under SQL Server's 2100 parameter limit.
const maxArgs = 2000

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db     *sql.DB
	schema string
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
// Tables go to cfg.Schema, or dbo when unset.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "dbo"
	}
	return &Repo{db: db, schema: schema}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	if r.schema != "dbo" {
		if _, err := r.db.ExecContext(ctx, buildCreateSchemaSQL(r.schema)); err != nil {
			return fmt.Errorf("create schema %s: %w", r.schema, err)
		}
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, buildCreateSQL(r.schema, t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}

		existing, err := r.columns(ctx, t.Name)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", t.Name, err)
		}
		for _, c := range t.Missing(existing) {
			q := fmt.Sprintf("ALTER TABLE %s ADD %s", tableIdent(r.schema, t.Name), columnDef(c, false))
			if _, err := r.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
			}
		}
	}
	return nil
}

func (r *Repo) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT COLUMN_NAME
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`, r.schema, table)
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

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, keyColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}
	if len(keyColumns) > 0 {
		var err error
		if rows, err = dedupeRows(rows, columns, keyColumns); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := max(maxArgs/len(columns), 1)
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(tableIdent(r.schema, table), columns, rows[start:end], keyColumns)
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
	rows, err := r.db.QueryContext(ctx, buildSelectSQL(tableIdent(r.schema, table), orderBy))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

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

// dedupeRows keeps the first row for each key, preserving order. Every key
// column must be present in columns.
func dedupeRows(rows [][]any, columns, keyColumns []string) ([][]any, error) {
	idx := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		found := -1
		for j, c := range columns {
			if c == k {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("key column %s not in insert columns", k)
		}
		idx[i] = found
	}

	seen := make(map[string]bool, len(rows))
	out := make([][]any, 0, len(rows))
	var key strings.Builder
	for _, row := range rows {
		key.Reset()
		for _, i := range idx {
			if i < len(row) {
				fmt.Fprintf(&key, "%v", row[i])
			}
			key.WriteByte(0x1f)
		}
		k := key.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out, nil
}

func ident(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func tableIdent(schema, table string) string {
	return ident(schema) + "." + ident(table)
}

func quoteString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// columnDef maps portable types. Key columns must be indexable, which rules
// out NVARCHAR(MAX); timestamps and row hashes fit in 64 characters.
func columnDef(c storage.ColumnSpec, key bool) string {
	switch {
	case key:
		return ident(c.Name) + " NVARCHAR(64) NOT NULL"
	case c.Type == storage.TypeReal:
		return ident(c.Name) + " FLOAT NULL"
	default:
		return ident(c.Name) + " NVARCHAR(MAX) NULL"
	}
}

func buildCreateSchemaSQL(schema string) string {
	return fmt.Sprintf("IF SCHEMA_ID(%s) IS NULL EXEC(%s);",
		quoteString(schema), quoteString("CREATE SCHEMA "+ident(schema)))
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard so it can run on
// every load.
func buildCreateSQL(schema string, t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c, t.IsKey(c.Name)))
	}
	if len(t.Key) > 0 {
		defs = append(defs, "UNIQUE ("+joinIdents("", t.Key)+")")
	}
	full := tableIdent(schema, t.Name)
	return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		quoteString(full), full, strings.Join(defs, ", "))
}

func buildInsertSQL(table string, columns []string, rows [][]any, keyColumns []string) (string, []any, error) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") SELECT ")
	b.WriteString(joinIdents("v.", columns))
	b.WriteString(" FROM (VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	b.WriteString(joinIdents("", columns))
	b.WriteString(")")

	if len(keyColumns) > 0 {
		b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
		b.WriteString(table)
		b.WriteString(" t WHERE ")
		for i, k := range keyColumns {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("t.")
			b.WriteString(ident(k))
			b.WriteString(" = v.")
			b.WriteString(ident(k))
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

func buildSelectSQL(table, orderBy string) string {
	q := "SELECT * FROM " + table
	if orderBy != "" {
		q += " ORDER BY " + ident(orderBy) + " DESC"
	}
	return q
}

func joinIdents(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + ident(c)
	}
	return strings.Join(out, ", ")
}
