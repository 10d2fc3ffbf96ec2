package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const levelsSheet = "Levels"

var levelHeaders = []string{
	"SKU", "Title", "Category", "On Hand", "Reserved", "Available",
	"Reorder Point", "Unit Cost", "Total Value", "Storage Location",
}

// WriteCSV serialises level rows as CSV.
func WriteCSV(w io.Writer, rows []LevelRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(levelHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writer.Write([]string{
			r.SKU,
			r.Title,
			string(r.Category),
			strconv.FormatInt(r.OnHand, 10),
			strconv.FormatInt(r.Reserved, 10),
			strconv.FormatInt(r.Available, 10),
			strconv.FormatInt(r.ReorderPoint, 10),
			r.UnitCost.StringFixed(2),
			r.TotalValue.StringFixed(2),
			r.StorageLocation,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX renders level rows into a workbook with a styled header and a
// totals row.
func WriteXLSX(w io.Writer, rows []LevelRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", levelsSheet); err != nil {
		return err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 4})
	if err != nil {
		return err
	}

	for i, h := range levelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(levelsSheet, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(levelsSheet, "A1", "J1", header); err != nil {
		return err
	}
	for i, width := range []float64{16, 32, 14, 10, 10, 10, 14, 12, 14, 18} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(levelsSheet, col, col, width); err != nil {
			return err
		}
	}

	for i, r := range rows {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		unit, _ := r.UnitCost.Float64()
		value, _ := r.TotalValue.Float64()
		if err := f.SetSheetRow(levelsSheet, cell, &[]any{
			r.SKU, r.Title, string(r.Category), r.OnHand, r.Reserved, r.Available,
			r.ReorderPoint, unit, value, r.StorageLocation,
		}); err != nil {
			return err
		}
		if err := f.SetCellStyle(levelsSheet, fmt.Sprintf("H%d", row), fmt.Sprintf("I%d", row), money); err != nil {
			return err
		}
	}

	totals := Sum(rows)
	last := len(rows) + 2
	value, _ := totals.TotalValue.Float64()
	cell, _ := excelize.CoordinatesToCellName(1, last)
	if err := f.SetSheetRow(levelsSheet, cell, &[]any{
		"Total", "", "", totals.OnHand, totals.Reserved, totals.Available, "", "", value, "",
	}); err != nil {
		return err
	}
	if err := f.SetCellStyle(levelsSheet, fmt.Sprintf("A%d", last), fmt.Sprintf("J%d", last), bold); err != nil {
		return err
	}
	return f.Write(w)
}
