package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var columnReplacer = strings.NewReplacer(" ", "_", "(", "", ")", "", "-", "_")

// NormalizeColumn converts a CSV header to a warehouse column name:
// upper-cased, spaces and dashes become underscores, parentheses are removed.
func NormalizeColumn(name string) string {
	return columnReplacer.Replace(strings.ToUpper(strings.TrimSpace(name)))
}

// CellString converts a scanned driver value to its text form. NULL is nil.
// Backends return different Go types for the same column, so exports go
// through this to stay identical across backends.
func CellString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int:
		s = strconv.Itoa(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		s = t.UTC().Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(v)
	}
	return &s
}
