// Package csvexport writes extracted datasets as append-only CSV files, one
// file per dataset, plus a raw JSON dump of each run. It also reads those
// files back for warehouse loading.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dashetl/internal/records"
)

// Writer wraps csv.Writer for dataset rows.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the dataset header row.
func (w *Writer) WriteHeader(ds records.Dataset) error {
	return w.csv.Write(ds.Header())
}

// WriteRows writes every row of ds.
func (w *Writer) WriteRows(ds records.Dataset) error {
	for _, row := range ds.StringRows() {
		if err := w.csv.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer and returns its error.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

// FileName is the CSV file a dataset appends to.
func FileName(ds records.Dataset) string {
	return ds.Name + ".csv"
}

// AppendDataset appends the rows of ds to <dir>/<name>.csv. The header is
// written only when the file is new or empty. Datasets without rows leave the
// file untouched.
func AppendDataset(dir string, ds records.Dataset) (string, error) {
	path := filepath.Join(dir, FileName(ds))
	if len(ds.Rows) == 0 {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	w := NewWriter(f)
	if st.Size() == 0 {
		if err := w.WriteHeader(ds); err != nil {
			return "", fmt.Errorf("write header %s: %w", path, err)
		}
	}
	if err := w.WriteRows(ds); err != nil {
		return "", fmt.Errorf("write rows %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}
	return path, f.Close()
}

// WriteTable overwrites path with header and rows. Nil cells are written as
// empty strings.
func WriteTable(path string, header []string, rows [][]*string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header %s: %w", path, err)
	}
	rec := make([]string, len(header))
	for _, row := range rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) && row[i] != nil {
				rec[i] = *row[i]
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
