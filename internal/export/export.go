// Package export writes normalized census tables to xlsx workbooks.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/pfrederiksen/geodash/internal/projection"
	"github.com/pfrederiksen/geodash/internal/table"
)

// SheetName is the name of the single sheet of an exported workbook.
const SheetName = "table"

// Workbook builds a workbook from t: the title in A1, column names on row 2
// and one row per data row below. Cells that parse as numbers are written as
// numbers.
func Workbook(t *table.Normalized) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.SetCellValue(SheetName, "A1", t.Title)

	for i, col := range t.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(SheetName, cell, col)
	}

	for i, row := range t.Rows {
		r := i + 3
		for c, col := range t.Columns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			v := row.Values[col]
			if n, ok := projection.ParseNumber(v); ok && col != table.LocationColumn {
				_ = f.SetCellValue(SheetName, cell, n)
				continue
			}
			_ = f.SetCellValue(SheetName, cell, v)
		}
	}
	return f, nil
}

// Write writes t as an xlsx workbook to w.
func Write(t *table.Normalized, w io.Writer) error {
	f, err := Workbook(t)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// WriteFile writes t as an xlsx workbook to path, creating its directory.
func WriteFile(t *table.Normalized, path string) error {
	f, err := Workbook(t)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}
