package storage

import (
	"fmt"
	"strings"
)

// ColumnType is the portable column type. Backends map it to a native type.
type ColumnType string

const (
	TypeText ColumnType = "text"
	TypeReal ColumnType = "real"
)

// ColumnSpec describes one warehouse column. Every non-key column is
// nullable; key columns are NOT NULL.
type ColumnSpec struct {
	Name string
	Type ColumnType
}

// TableSpec describes a warehouse table. Key lists the columns that identify
// a row; InsertRows skips rows whose key already exists.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
	Key     []string
}

// IsKey reports whether column is part of the table key.
func (t TableSpec) IsKey(column string) bool {
	for _, k := range t.Key {
		if k == column {
			return true
		}
	}
	return false
}

// Validate checks that the table definition is usable by every backend.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: empty column name", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeText, TypeReal:
		default:
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, k := range t.Key {
		if !seen[k] {
			return fmt.Errorf("table %s: key column %s not in columns", t.Name, k)
		}
	}
	return nil
}

// Missing returns the columns of t that are not in existing. Comparison is
// case-insensitive.
func (t TableSpec) Missing(existing []string) []ColumnSpec {
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[strings.ToUpper(e)] = true
	}
	var out []ColumnSpec
	for _, c := range t.Columns {
		if !have[strings.ToUpper(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}
