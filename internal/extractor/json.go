package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tablenorm/internal/domain"
	"tablenorm/internal/port"
)

// JSONSource reads tables that were extracted elsewhere.
type JSONSource struct{}

type jsonDocument struct {
	Context string            `json:"context"`
	Tables  []domain.RawTable `json:"tables"`
}

// Extract reads a {"context": "...", "tables": [...]} document.
func (s *JSONSource) Extract(_ context.Context, in port.ExtractInput) (*port.Extraction, error) {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("extractor.JSONSource: reading %s: %w", in.Path, err)
	}
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("extractor.JSONSource: decoding %s: %w", in.Path, err)
	}

	tables := make([]domain.RawTable, 0, len(doc.Tables))
	for i, t := range doc.Tables {
		if t.TableID == "" {
			t.TableID = fmt.Sprintf("table-%d", i+1)
		}
		if t.PageNumber <= 0 {
			t.PageNumber = 1
		}
		if t.Rows == nil {
			t.Rows = [][]string{}
		}
		tables = append(tables, t)
	}
	return &port.Extraction{Tables: tables, Context: domain.DocumentContext(doc.Context)}, nil
}
