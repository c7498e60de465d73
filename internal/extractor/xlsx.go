package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// XLSXSource reads each non-empty worksheet as one table.
type XLSXSource struct {
	ContextMaxChars int
}

// Extract reads the workbook at in.Path. OCR does not apply.
func (s *XLSXSource) Extract(ctx context.Context, in port.ExtractInput) (*port.Extraction, error) {
	f, err := excelize.OpenFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("extractor.XLSXSource: opening %s: %w", in.Path, err)
	}
	defer func() { _ = f.Close() }()

	out := &port.Extraction{Tables: []domain.RawTable{}}
	var firstSheetText string

	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("extractor.XLSXSource: reading sheet %s: %w", sheet, err)
		}
		rows = trimRows(rows)
		if i == 0 {
			firstSheetText = joinLines(rows)
		}
		if len(rows) == 0 {
			continue
		}
		out.Tables = append(out.Tables, domain.RawTable{
			TableID:    fmt.Sprintf("sheet-%d-table-1", i+1),
			PageNumber: i + 1,
			Title:      sheet,
			Headers:    rows[0],
			Rows:       rows[1:],
		})
	}

	var title, subject string
	if props, err := f.GetDocProps(); err == nil && props != nil {
		title, subject = props.Title, props.Subject
	}
	out.Context = BuildContext(title, subject, firstSheetText, s.ContextMaxChars)
	return out, nil
}

// trimRows trims cell whitespace and drops rows with no content.
func trimRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		empty := true
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
			if cells[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return out
}
