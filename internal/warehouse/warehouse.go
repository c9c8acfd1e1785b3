// Package warehouse moves dataset CSVs into a SQL warehouse and exports
// warehouse tables back to CSV and XLSX.
package warehouse

import (
	"strings"

	"github.com/rs/zerolog"

	"dashetl/internal/normalize"
	"dashetl/internal/records"
	"dashetl/internal/rules"
	"dashetl/internal/storage"
)

// Option configures a Loader or Exporter.
type Option func(*options)

type options struct {
	log  zerolog.Logger
	xlsx string
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithXLSX makes the Exporter also write every table into one workbook
// named name inside the export directory.
func WithXLSX(name string) Option {
	return func(o *options) { o.xlsx = name }
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Tables lists the warehouse tables a profile writes: group tables in group
// order without repeats, then one table per table rule.
func Tables(p *rules.Profile) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, g := range p.Groups() {
		add(g.Table)
	}
	for _, t := range p.Tables() {
		add(strings.ToUpper(t.Name))
	}
	return out
}

// columnTypes maps normalized column names of one dataset file to storage
// types. Numeric formats load as real; everything else, including table
// rule cells and files the profile does not know, loads as text.
func columnTypes(p *rules.Profile, dataset string) map[string]storage.ColumnType {
	out := map[string]storage.ColumnType{}
	for _, g := range p.Groups() {
		if g.Name != dataset {
			continue
		}
		for _, c := range g.Columns {
			f := c.Format
			if f == "" {
				if field, ok := p.Field(c.Field); ok {
					f = field.Format
				}
			}
			if numeric(f) {
				out[storage.NormalizeColumn(c.Name)] = storage.TypeReal
			}
		}
	}
	return out
}

func numeric(f normalize.Format) bool {
	switch f {
	case normalize.FormatText, normalize.FormatDate, normalize.FormatPair:
		return false
	}
	return true
}

// keyColumns returns TIMESTAMP, plus ROW_HASH when the header has one.
func keyColumns(header []string) []string {
	keys := []string{records.TimestampColumn}
	for _, h := range header {
		if h == records.RowHashColumn {
			return append(keys, records.RowHashColumn)
		}
	}
	return keys
}
