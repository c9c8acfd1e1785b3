// Package xlsxexport writes exported warehouse tables into a single Excel
// workbook, one sheet per table.
package xlsxexport

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's sheet name limit.
const maxSheetName = 31

// Sheet is one table to write.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]*string
}

// Write saves sheets to path. Cells that parse as numbers are stored as
// numbers; nil cells stay blank.
func Write(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return errors.New("xlsx: no sheets to write")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	first := f.GetSheetName(0)
	for i, s := range sheets {
		name := sheetName(s.Name)
		if i == 0 {
			if err := f.SetSheetName(first, name); err != nil {
				return fmt.Errorf("rename sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %q: %w", name, err)
		}
		if err := writeSheet(f, name, s); err != nil {
			return fmt.Errorf("sheet %q: %w", name, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, s Sheet) error {
	header := make([]any, len(s.Header))
	for i, h := range s.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	for r, row := range s.Rows {
		for c, cell := range row {
			if c >= len(s.Header) || cell == nil {
				continue
			}
			addr, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(name, addr, cellValue(*cell)); err != nil {
				return err
			}
		}
	}
	return nil
}

func cellValue(s string) any {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}

func sheetName(s string) string {
	if len(s) > maxSheetName {
		return s[:maxSheetName]
	}
	return s
}
