package csvexport

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"tablenorm/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// Writer wraps csv.Writer for exporting normalized rows as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the type,article,amount,year header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(domain.CSVColumns)
}

// WriteRows writes one record per row. Provenance is not part of the artifact.
func (w *Writer) WriteRows(rows []domain.NormalizedRow) error {
	for i := range rows {
		if err := w.csv.Write(rowToRecord(&rows[i])); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

func rowToRecord(r *domain.NormalizedRow) []string {
	return []string{r.Type, r.Article, r.Amount, r.Year}
}

// WriteFile writes the consolidated dataset to path, creating parent
// directories. With excelBOM the file starts with a UTF-8 byte order mark.
func WriteFile(path string, rows []domain.NormalizedRow, excelBOM bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("csvexport.WriteFile: creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvexport.WriteFile: %w", err)
	}

	if excelBOM {
		if _, err := f.Write(BOM); err != nil {
			_ = f.Close()
			return fmt.Errorf("csvexport.WriteFile: writing BOM: %w", err)
		}
	}

	w := NewWriter(f)
	if err := w.WriteHeader(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvexport.WriteFile: writing header: %w", err)
	}
	if err := w.WriteRows(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvexport.WriteFile: writing rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvexport.WriteFile: flushing: %w", err)
	}
	return f.Close()
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a document name for use in object keys.
// Replaces non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
