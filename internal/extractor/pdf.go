package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// PageOCR returns the recognised text of one page of a PDF.
type PageOCR interface {
	OCRPage(ctx context.Context, path string, page int) (string, error)
}

// PDFSource finds tables in the text layer of a PDF. Lines that split into the
// same number of columns on consecutive rows form a table. Pages without a
// table are sent to OCR when requested.
type PDFSource struct {
	OCR             PageOCR
	ContextMaxChars int
	Logger          *slog.Logger
}

// Extract reads every page of the PDF at in.Path.
func (s *PDFSource) Extract(ctx context.Context, in port.ExtractInput) (*port.Extraction, error) {
	f, r, err := pdf.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("extractor.PDFSource: opening %s: %w", in.Path, err)
	}
	defer func() { _ = f.Close() }()

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := &port.Extraction{Tables: []domain.RawTable{}}
	var firstPageText string

	for num := 1; num <= r.NumPage(); num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(num)
		if page.V.IsNull() {
			continue
		}

		lines, err := pageLines(page)
		if err != nil {
			logger.Error("reading page text failed", "page", num, "error", err)
			continue
		}
		if num == 1 {
			firstPageText = joinLines(lines)
		}

		tables := detectTables(lines, num)
		out.Tables = append(out.Tables, tables...)

		if len(tables) == 0 && in.UseOCR && s.OCR != nil {
			logger.Info("no tables on page, trying OCR", "page", num)
			text, err := s.OCR.OCRPage(ctx, in.Path, num)
			if err != nil {
				logger.Error("OCR failed", "page", num, "error", err)
				continue
			}
			if t, ok := ocrTable(text, num); ok {
				out.Tables = append(out.Tables, t)
			}
		}
	}

	var title, subject string
	if info := r.Trailer().Key("Info"); !info.IsNull() {
		title = info.Key("Title").Text()
		subject = info.Key("Subject").Text()
	}
	out.Context = BuildContext(title, subject, firstPageText, s.ContextMaxChars)
	return out, nil
}

// pageLines returns the page's text rows top to bottom, each split into cells.
func pageLines(page pdf.Page) ([][]string, error) {
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}
	// PDF y coordinates grow upwards.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position > rows[j].Position })

	lines := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := cellsFromTexts(row.Content)
		if len(cells) > 0 {
			lines = append(lines, cells)
		}
	}
	return lines, nil
}

// cellsFromTexts groups positioned glyph runs into cells. A horizontal gap
// wider than the font size starts a new cell; a smaller visible gap is a space.
func cellsFromTexts(texts []pdf.Text) []string {
	items := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			items = append(items, t)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].X < items[j].X })

	var cells []string
	var cur strings.Builder
	var end float64
	for i, t := range items {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		if i > 0 {
			gap := t.X - end
			switch {
			case gap > size:
				cells = appendCell(cells, cur.String())
				cur.Reset()
			case gap > size*0.2:
				cur.WriteByte(' ')
			}
		}
		cur.WriteString(t.S)
		end = t.X + t.W
	}
	return appendCell(cells, cur.String())
}

func appendCell(cells []string, s string) []string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return cells
	}
	return append(cells, s)
}

// detectTables turns runs of at least two consecutive lines with the same
// column count (two or more) into tables. The first line of a run is the header.
func detectTables(lines [][]string, pageNumber int) []domain.RawTable {
	var tables []domain.RawTable
	text := joinLines(lines)

	flush := func(run [][]string) {
		if len(run) < 2 {
			return
		}
		idx := len(tables) + 1
		tables = append(tables, domain.RawTable{
			TableID:    fmt.Sprintf("page-%d-table-%d", pageNumber, idx),
			PageNumber: pageNumber,
			Title:      findTitle(text, idx),
			Headers:    run[0],
			Rows:       run[1:],
		})
	}

	var run [][]string
	for _, line := range lines {
		if len(line) >= 2 && (len(run) == 0 || len(line) == len(run[0])) {
			run = append(run, line)
			continue
		}
		flush(run)
		run = nil
		if len(line) >= 2 {
			run = append(run, line)
		}
	}
	flush(run)
	return tables
}

// ocrTable treats the first recognised line as headers and the rest as rows,
// splitting on whitespace.
func ocrTable(text string, pageNumber int) (domain.RawTable, bool) {
	var lines [][]string
	for _, l := range strings.Split(text, "\n") {
		if fields := strings.Fields(l); len(fields) > 0 {
			lines = append(lines, fields)
		}
	}
	if len(lines) == 0 {
		return domain.RawTable{}, false
	}
	return domain.RawTable{
		TableID:    fmt.Sprintf("page-%d-table-ocr", pageNumber),
		PageNumber: pageNumber,
		Headers:    lines[0],
		Rows:       lines[1:],
	}, true
}

func joinLines(lines [][]string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(strings.Join(l, " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
