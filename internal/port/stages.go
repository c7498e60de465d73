package port

import (
	"context"

	"tablenorm/internal/domain"
)

// RunInput is the entry contract of one pipeline run. An empty OutputPath
// selects the configured CSV path. A non-empty ArtifactDir receives every
// artifact of the run under its configured base name.
type RunInput struct {
	DocumentPath string
	OutputPath   string
	ArtifactDir  string
	UseOCR       bool
}

// NormalizeResult is the outcome of normalizing one table.
type NormalizeResult struct {
	Rows  []domain.NormalizedRow
	Notes []string
}

// TableNormalizer converts one raw table into canonical rows.
type TableNormalizer interface {
	Normalize(ctx context.Context, table domain.RawTable, docCtx domain.DocumentContext) (*NormalizeResult, error)
}

// TableValidator reviews the consolidated dataset.
type TableValidator interface {
	Validate(ctx context.Context, rows []domain.NormalizedRow, rowsPerTable map[string]int) (*domain.ValidationReport, error)
}
