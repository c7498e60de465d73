package port

import (
	"context"

	"tablenorm/internal/domain"
)

// ExtractInput identifies the document to extract tables from.
type ExtractInput struct {
	Path   string
	UseOCR bool
}

// Extraction is the result of locating tables in a document.
// Table ids are unique within one Extraction.
type Extraction struct {
	Tables  []domain.RawTable
	Context domain.DocumentContext
}

// TableExtractor locates raw tables and document context in a document.
type TableExtractor interface {
	Extract(ctx context.Context, input ExtractInput) (*Extraction, error)
}
