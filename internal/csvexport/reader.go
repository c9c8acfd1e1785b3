package csvexport

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// File is a CSV file read back into memory.
type File struct {
	Header []string
	// Rows are aligned with Header; empty cells are nil.
	Rows [][]*string
}

// ReadFile reads a dataset CSV written by AppendDataset.
func ReadFile(ctx context.Context, path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(ctx, f)
}

// Read parses CSV from r. The header row is required; a UTF-8 BOM on the
// first header cell is dropped and cells are trimmed. Rows that are shorter
// than the header get nil cells for the missing columns; extra cells are
// ignored. The context is checked between rows.
func Read(ctx context.Context, r io.Reader) (*File, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	out := &File{Header: make([]string, len(hdr))}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out.Header[i] = strings.TrimSpace(h)
	}

	line := 1
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := cr.Read()
		line++
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}

		row := make([]*string, len(out.Header))
		for i := range row {
			if i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			row[i] = &v
		}
		out.Rows = append(out.Rows, row)
	}
}
