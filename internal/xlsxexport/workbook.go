// Package xlsxexport writes the consolidated dataset as an Excel workbook.
package xlsxexport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"tablenorm/internal/domain"
)

// Sheet names of the workbook.
const (
	SheetConsolidated = "Consolidated"
	SheetValidation   = "Validation"
)

// WriteWorkbook saves rows and the validation outcome to path. The Consolidated
// sheet mirrors the CSV artifact; the Validation sheet lists per-table counts
// and the report's findings.
func WriteWorkbook(path string, rows []domain.NormalizedRow, rowsPerTable map[string]int, validation domain.ValidationOutcome) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetConsolidated); err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: renaming sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: creating header style: %w", err)
	}

	if err := writeHeader(f, SheetConsolidated, 1, domain.CSVColumns, headerStyle); err != nil {
		return err
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetConsolidated, cell, &[]interface{}{r.Type, r.Article, r.Amount, r.Year}); err != nil {
			return fmt.Errorf("xlsxexport.WriteWorkbook: writing row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(SheetConsolidated, "A", "D", 20); err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: setting widths: %w", err)
	}

	if _, err := f.NewSheet(SheetValidation); err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: creating sheet: %w", err)
	}
	if err := writeValidation(f, rowsPerTable, validation, headerStyle); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: creating directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsxexport.WriteWorkbook: saving: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string, style int) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("xlsxexport: writing header: %w", err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("xlsxexport: styling header: %w", err)
		}
	}
	return nil
}

func writeValidation(f *excelize.File, rowsPerTable map[string]int, validation domain.ValidationOutcome, style int) error {
	if err := writeHeader(f, SheetValidation, 1, []string{"table_id", "rows", "alignment_ok"}, style); err != nil {
		return err
	}

	ids := make([]string, 0, len(rowsPerTable))
	for id := range rowsPerTable {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	row := 2
	for _, id := range ids {
		alignment := ""
		if !validation.Skipped() {
			if ok, found := validation.Report.PerTableAlignment[id]; found {
				alignment = strconv.FormatBool(ok)
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetValidation, cell, &[]interface{}{id, rowsPerTable[id], alignment}); err != nil {
			return fmt.Errorf("xlsxexport: writing counts: %w", err)
		}
		row++
	}

	row++
	if err := writeHeader(f, SheetValidation, row, []string{"finding"}, style); err != nil {
		return err
	}
	row++

	var findings []string
	if validation.Skipped() {
		findings = []string{"validation " + domain.ValidationSkipped}
	} else {
		findings = append(findings, "column_alignment_ok: "+strconv.FormatBool(validation.Report.ColumnAlignmentOK))
		findings = append(findings, validation.Report.Discrepancies...)
		if validation.Report.LLMNotes != nil {
			findings = append(findings, *validation.Report.LLMNotes)
		}
	}
	for _, text := range findings {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellValue(SheetValidation, cell, text); err != nil {
			return fmt.Errorf("xlsxexport: writing finding: %w", err)
		}
		row++
	}
	return f.SetColWidth(SheetValidation, "A", "A", 60)
}
