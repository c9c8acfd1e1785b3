package extract

import (
	"sort"
	"time"

	"dashetl/internal/normalize"
)

// RawField is the outcome of one field rule against one document.
type RawField struct {
	// Raw is the located text after cleanup. Empty when not found.
	Raw   string
	Found bool
	// Format is the field's declared format with auto already resolved.
	Format normalize.Format
	Value  normalize.Value
}

// RawFieldMap maps field name to its extraction result. A map is built once
// per document and never modified afterwards.
type RawFieldMap map[string]RawField

// Text returns the raw text of name.
func (m RawFieldMap) Text(name string) (string, bool) {
	f, ok := m[name]
	if !ok || !f.Found {
		return "", false
	}
	return f.Raw, true
}

// Names returns the field names in sorted order.
func (m RawFieldMap) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Counts reports how many fields were found and how many were not.
func (m RawFieldMap) Counts() (found, missing int) {
	for _, f := range m {
		if f.Found {
			found++
		} else {
			missing++
		}
	}
	return found, missing
}

// Row maps column name to cell text. A nil cell is absent.
type Row map[string]*string

// Table is the decoded content of one table rule.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Snapshot is everything extracted from one page, stamped with the capture
// instant supplied by the caller.
type Snapshot struct {
	Timestamp time.Time
	Fields    RawFieldMap
	Tables    []Table
}
