// Package records arranges one extraction snapshot into datasets ready to be
// written out: one single-row dataset per record group and one dataset per
// table rule. Every dataset leads with the capture TIMESTAMP.
package records

import (
	"strings"
	"time"

	"dashetl/internal/extract"
	"dashetl/internal/normalize"
	"dashetl/internal/rules"
)

const (
	TimestampColumn = rules.TimestampColumn
	RowHashColumn   = "ROW_HASH"
)

// TimestampLayout renders capture instants. Fixed precision keeps the text
// sortable and stable as a dedupe key.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders ts in UTC with TimestampLayout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp reverses FormatTimestamp. RFC 3339 text is accepted too.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

// Kind tells group datasets from table datasets.
type Kind uint8

const (
	GroupKind Kind = iota
	TableKind
)

// Dataset is a named block of rows sharing one capture instant.
type Dataset struct {
	Kind Kind
	// Name is the group or table rule name; output files are named after it.
	Name string
	// Table is the warehouse table the rows load into.
	Table     string
	Timestamp time.Time
	// Columns excludes TIMESTAMP.
	Columns []string
	Rows    [][]normalize.Value
}

// Header returns TIMESTAMP followed by Columns.
func (d Dataset) Header() []string {
	return append([]string{TimestampColumn}, d.Columns...)
}

// Keys returns the columns that identify a row in the warehouse.
func (d Dataset) Keys() []string {
	if d.Kind == TableKind {
		return []string{TimestampColumn, RowHashColumn}
	}
	return []string{TimestampColumn}
}

// StringRows renders every row with the formatted timestamp first. Absent
// values render as "".
func (d Dataset) StringRows() [][]string {
	ts := FormatTimestamp(d.Timestamp)
	out := make([][]string, len(d.Rows))
	for i, row := range d.Rows {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, ts)
		for _, v := range row {
			rec = append(rec, v.String())
		}
		out[i] = rec
	}
	return out
}

// Assemble builds one dataset per group, in group order, followed by one
// dataset per scraped table.
func Assemble(groups []rules.Group, snap extract.Snapshot) []Dataset {
	ts := snap.Timestamp.UTC()
	out := make([]Dataset, 0, len(groups)+len(snap.Tables))
	for _, g := range groups {
		out = append(out, assembleGroup(g, snap.Fields, ts))
	}
	for _, t := range snap.Tables {
		out = append(out, assembleTable(t, ts))
	}
	return out
}

func assembleGroup(g rules.Group, fields extract.RawFieldMap, ts time.Time) Dataset {
	cols := make([]string, len(g.Columns))
	row := make([]normalize.Value, len(g.Columns))
	for i, c := range g.Columns {
		cols[i] = c.Name
		row[i] = columnValue(c, fields)
	}
	return Dataset{
		Kind:      GroupKind,
		Name:      g.Name,
		Table:     g.Table,
		Timestamp: ts,
		Columns:   cols,
		Rows:      [][]normalize.Value{row},
	}
}

// columnValue reuses the field's own value unless the column asks for a
// different format, in which case the cleaned raw text is normalized again.
func columnValue(c rules.Column, fields extract.RawFieldMap) normalize.Value {
	rf, ok := fields[c.Field]
	if !ok || !rf.Found {
		return normalize.Value{}
	}
	if c.Format == "" || c.Format == rf.Format {
		return rf.Value
	}
	return normalize.Normalize(normalize.Resolve(c.Format, c.Field, rf.Raw), rf.Raw)
}

func assembleTable(t extract.Table, ts time.Time) Dataset {
	cols := append([]string{RowHashColumn}, t.Columns...)
	rows := make([][]normalize.Value, 0, len(t.Rows))
	for _, r := range t.Rows {
		cells := make([]*string, len(t.Columns))
		row := make([]normalize.Value, 0, len(cols))
		for i, c := range t.Columns {
			cells[i] = r[c]
		}
		row = append(row, normalize.TextValue(RowHash(t.Columns, cells)))
		for _, cell := range cells {
			if cell == nil {
				row = append(row, normalize.Value{})
				continue
			}
			// A blank cell stays present text so it agrees with ROW_HASH.
			row = append(row, normalize.Value{Kind: normalize.Text, S: *cell})
		}
		rows = append(rows, row)
	}
	return Dataset{
		Kind:      TableKind,
		Name:      t.Name,
		Table:     strings.ToUpper(t.Name),
		Timestamp: ts,
		Columns:   cols,
		Rows:      rows,
	}
}
