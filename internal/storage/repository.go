// Package storage defines the backend-agnostic warehouse repository used to
// load dataset CSVs and export tables back out. Backends register themselves
// by kind from an init function; import internal/storage/all to get every
// backend compiled in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedKind is returned by New when no backend is registered for
// the configured kind.
var ErrUnsupportedKind = errors.New("storage: unsupported kind")

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must match a registered backend ("sqlite", "postgres", "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
//   - Schema, when set, qualifies every table name on backends that support
//     schemas. SQLite ignores it.
type Config struct {
	Kind   string
	DSN    string
	Schema string
}

// Result is a whole table read back as strings. NULL cells are nil.
type Result struct {
	Columns []string
	Rows    [][]*string
}

// Repository is the warehouse surface the loader and exporter need. Each
// backend implements insert-if-absent in its own dialect (SQLite OR IGNORE,
// Postgres ON CONFLICT DO NOTHING, SQL Server NOT EXISTS).
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates missing tables and adds columns that a table
	// lacks. Existing columns are never altered or dropped.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows inserts rows whose key columns do not already exist in the
	// table and reports how many rows were written. Rows are aligned with
	// columns.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, keyColumns []string) (int64, error)

	// SelectAll returns every row of table ordered by orderBy descending.
	// An empty orderBy leaves the order to the backend.
	SelectAll(ctx context.Context, table string, orderBy string) (*Result, error)
}

// Factory constructs a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a Repository using the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind: %w", ErrUnsupportedKind)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage kind=%s: %w", cfg.Kind, ErrUnsupportedKind)
	}
	return f(ctx, cfg)
}
