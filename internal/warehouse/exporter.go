package warehouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dashetl/internal/csvexport"
	"dashetl/internal/metrics"
	"dashetl/internal/records"
	"dashetl/internal/storage"
	"dashetl/internal/xlsxexport"
)

// Exporter writes warehouse tables to CSV, newest rows first.
type Exporter struct {
	repo storage.Repository
	log  zerolog.Logger
	xlsx string
}

// NewExporter returns an Exporter reading from repo.
func NewExporter(repo storage.Repository, opts ...Option) *Exporter {
	o := buildOptions(opts)
	return &Exporter{repo: repo, log: o.log, xlsx: o.xlsx}
}

// Export writes <dir>/<table>.csv for each table and, when configured, one
// workbook with a sheet per table. It returns the written paths.
func (e *Exporter) Export(ctx context.Context, tables []string, dir string) ([]string, error) {
	start := time.Now()
	paths, err := e.export(ctx, tables, dir)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep("export", status, time.Since(start))
	return paths, err
}

func (e *Exporter) export(ctx context.Context, tables []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	var (
		paths  []string
		sheets []xlsxexport.Sheet
	)
	for _, table := range tables {
		res, err := e.repo.SelectAll(ctx, table, records.TimestampColumn)
		if err != nil {
			return paths, fmt.Errorf("export %s: %w", table, err)
		}

		path := filepath.Join(dir, table+".csv")
		if err := csvexport.WriteTable(path, res.Columns, res.Rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
		sheets = append(sheets, xlsxexport.Sheet{Name: table, Header: res.Columns, Rows: res.Rows})
		e.log.Info().Str("table", table).Int("rows", len(res.Rows)).Str("path", path).Msg("exported")
	}

	if e.xlsx != "" && len(sheets) > 0 {
		path := filepath.Join(dir, e.xlsx)
		if err := xlsxexport.Write(path, sheets); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
