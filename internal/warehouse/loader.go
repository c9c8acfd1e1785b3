package warehouse

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dashetl/internal/csvexport"
	"dashetl/internal/metrics"
	"dashetl/internal/records"
	"dashetl/internal/rules"
	"dashetl/internal/storage"
)

// LoadResult summarizes one CSV file.
type LoadResult struct {
	File     string
	Table    string
	Rows     int
	Inserted int64
}

// Loader inserts dataset CSVs into warehouse tables.
type Loader struct {
	repo    storage.Repository
	profile *rules.Profile
	log     zerolog.Logger
}

// NewLoader returns a Loader writing to repo. The profile decides which
// table each file goes to and which columns are numeric.
func NewLoader(repo storage.Repository, p *rules.Profile, opts ...Option) *Loader {
	o := buildOptions(opts)
	return &Loader{repo: repo, profile: p, log: o.log}
}

// Load loads every *.csv file in dir, in name order. Files already loaded
// are safe to load again: rows whose key exists are skipped.
func (l *Loader) Load(ctx context.Context, dir string) ([]LoadResult, error) {
	start := time.Now()
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []LoadResult
	for _, path := range files {
		res, err := l.LoadFile(ctx, path)
		if err != nil {
			metrics.RecordStep("load", "error", time.Since(start))
			return out, fmt.Errorf("load %s: %w", filepath.Base(path), err)
		}
		out = append(out, res)
	}
	metrics.RecordStep("load", "ok", time.Since(start))
	return out, nil
}

// TableFor maps a dataset file name to its warehouse table: the profile's
// group or table rule setting, else the upper-cased file stem.
func (l *Loader) TableFor(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if t, ok := l.profile.GroupTable(stem); ok {
		return t
	}
	return storage.NormalizeColumn(stem)
}

// LoadFile loads one CSV file.
func (l *Loader) LoadFile(ctx context.Context, path string) (LoadResult, error) {
	res := LoadResult{File: path, Table: l.TableFor(path)}

	f, err := csvexport.ReadFile(ctx, path)
	if err != nil {
		return res, err
	}

	header := make([]string, len(f.Header))
	for i, h := range f.Header {
		header[i] = storage.NormalizeColumn(h)
	}
	tsIdx := indexOf(header, records.TimestampColumn)
	if tsIdx < 0 {
		return res, fmt.Errorf("missing %s column", records.TimestampColumn)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	types := columnTypes(l.profile, stem)
	spec := storage.TableSpec{Name: res.Table, Key: keyColumns(header)}
	for _, h := range header {
		typ := types[h]
		if typ == "" || spec.IsKey(h) {
			typ = storage.TypeText
		}
		spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: h, Type: typ})
	}
	if err := l.repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		return res, err
	}

	rows := make([][]any, 0, len(f.Rows))
	for n, cells := range f.Rows {
		if cells[tsIdx] == nil {
			l.log.Warn().Str("file", path).Int("row", n+2).Msg("row without timestamp skipped")
			continue
		}
		row := make([]any, len(cells))
		for i, cell := range cells {
			row[i] = l.cellValue(spec.Columns[i], cell, path, n+2)
		}
		rows = append(rows, row)
	}
	res.Rows = len(rows)

	res.Inserted, err = l.repo.InsertRows(ctx, spec.Name, header, rows, spec.Key)
	if err != nil {
		return res, err
	}
	metrics.RecordLoaded(spec.Name, res.Inserted)
	l.log.Info().
		Str("file", filepath.Base(path)).
		Str("table", spec.Name).
		Int("rows", res.Rows).
		Int64("inserted", res.Inserted).
		Msg("loaded")
	return res, nil
}

// cellValue converts a CSV cell to the driver value for c. A real column
// holding text that is not a number stores NULL.
func (l *Loader) cellValue(c storage.ColumnSpec, cell *string, path string, line int) any {
	if cell == nil {
		return nil
	}
	if c.Type != storage.TypeReal {
		return *cell
	}
	v, err := strconv.ParseFloat(*cell, 64)
	if err != nil {
		l.log.Warn().Str("file", path).Int("row", line).Str("column", c.Name).Str("value", *cell).
			Msg("non-numeric value stored as null")
		return nil
	}
	return v
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
