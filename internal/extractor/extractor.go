// Package extractor locates raw tables and document context in input files.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tablenorm/internal/config"
	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// Extractor dispatches on file extension to the PDF, XLSX or JSON source.
// It implements port.TableExtractor.
type Extractor struct {
	pdf    *PDFSource
	xlsx   *XLSXSource
	json   *JSONSource
	logger *slog.Logger
}

// New creates an Extractor from the extraction config.
func New(cfg config.ExtractionConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "extractor")
	return &Extractor{
		pdf: &PDFSource{
			OCR:             &TesseractOCR{Language: cfg.OCRLanguage, DPI: cfg.OCRDPI},
			ContextMaxChars: cfg.ContextMaxChars,
			Logger:          logger,
		},
		xlsx:   &XLSXSource{ContextMaxChars: cfg.ContextMaxChars},
		json:   &JSONSource{},
		logger: logger,
	}
}

// Supports reports whether a document with the given file name can be extracted.
func Supports(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".xlsx", ".xlsm", ".json":
		return true
	}
	return false
}

// Extract reads the document at in.Path.
func (e *Extractor) Extract(ctx context.Context, in port.ExtractInput) (*port.Extraction, error) {
	if _, err := os.Stat(in.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, in.Path)
		}
		return nil, fmt.Errorf("extractor.Extract: %w", err)
	}

	var (
		out *port.Extraction
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(in.Path)); ext {
	case ".pdf":
		out, err = e.pdf.Extract(ctx, in)
	case ".xlsx", ".xlsm":
		out, err = e.xlsx.Extract(ctx, in)
	case ".json":
		out, err = e.json.Extract(ctx, in)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDocument, ext)
	}
	if err != nil {
		return nil, err
	}

	for i := range out.Tables {
		out.Tables[i] = rectangularize(out.Tables[i])
	}
	out.Tables = uniqueIDs(out.Tables)
	e.logger.Info("extracted tables", "path", in.Path, "tables", len(out.Tables))
	return out, nil
}

// rectangularize pads headers and rows so every row has the same width.
func rectangularize(t domain.RawTable) domain.RawTable {
	width := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	t.Headers = pad(t.Headers, width)
	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = pad(row, width)
	}
	t.Rows = rows
	return t
}

func pad(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}

// uniqueIDs suffixes repeated table ids so ids are unique within a run. A
// suffixed id never takes an id that another table already carries.
func uniqueIDs(tables []domain.RawTable) []domain.RawTable {
	original := make(map[string]bool, len(tables))
	for i := range tables {
		original[tables[i].TableID] = true
	}
	assigned := make(map[string]bool, len(tables))
	for i := range tables {
		id := tables[i].TableID
		if assigned[id] {
			base := id
			for n := 2; assigned[id] || original[id]; n++ {
				id = fmt.Sprintf("%s-%d", base, n)
			}
			tables[i].TableID = id
		}
		assigned[id] = true
	}
	return tables
}
