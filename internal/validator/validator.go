// Package validator runs the dataset-wide quality review.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"tablenorm/internal/domain"
	"tablenorm/internal/llmjson"
	"tablenorm/internal/port"
)

// ParseFailedDiscrepancy is the single discrepancy of the report used when the
// review reply cannot be decoded.
const ParseFailedDiscrepancy = "Validation parsing failed - review manually"

// Validator implements port.TableValidator with one inference call per run.
type Validator struct {
	llm    port.InferenceClient
	model  string
	logger *slog.Logger
}

// New creates a Validator.
func New(llm port.InferenceClient, model string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		llm:    llm,
		model:  model,
		logger: logger.With("component", "validator"),
	}
}

type summaryPayload struct {
	TotalTables      int                    `json:"total_tables"`
	RowsPerTable     map[string]int         `json:"rows_per_table"`
	ConsolidatedRows []domain.NormalizedRow `json:"consolidated_rows"`
}

// Validate reviews rows and returns the report. Totals always come from the
// inputs; only the judgement fields come from the model. PromptLogPaths is left
// empty for the caller, which knows the run's scope. Inference errors are
// returned as is.
func (v *Validator) Validate(ctx context.Context, rows []domain.NormalizedRow, rowsPerTable map[string]int) (*domain.ValidationReport, error) {
	if rows == nil {
		rows = []domain.NormalizedRow{}
	}
	if rowsPerTable == nil {
		rowsPerTable = map[string]int{}
	}
	payload, err := json.Marshal(summaryPayload{
		TotalTables:      len(rowsPerTable),
		RowsPerTable:     rowsPerTable,
		ConsolidatedRows: rows,
	})
	if err != nil {
		return nil, fmt.Errorf("validator.Validate: marshaling payload: %w", err)
	}

	reply, err := v.llm.Chat(ctx, domain.ChatRequest{
		Model: v.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Metadata: map[string]any{"stage": domain.StageValidation},
	})
	if err != nil {
		return nil, err
	}

	report := &domain.ValidationReport{
		TotalTables:       len(rowsPerTable),
		RowsPerTable:      rowsPerTable,
		TotalRows:         len(rows),
		ColumnAlignmentOK: true,
		PerTableAlignment: map[string]bool{},
		LowConfidenceRows: []map[string]any{},
		Discrepancies:     []string{},
		PromptLogPaths:    []string{},
	}

	var parsed map[string]any
	if err := llmjson.DecodeObject(reply, &parsed); err != nil || parsed == nil {
		v.logger.Warn("validation reply is not valid JSON; using default report",
			"snippet", llmjson.Truncate(reply, 300))
		report.Discrepancies = []string{ParseFailedDiscrepancy}
	} else {
		applyReply(report, parsed)
	}
	return report, nil
}

// applyReply copies the model's judgement fields into report, ignoring values
// of the wrong shape.
func applyReply(report *domain.ValidationReport, parsed map[string]any) {
	if ok, isBool := parsed["column_alignment_ok"].(bool); isBool {
		report.ColumnAlignmentOK = ok
	}

	if m, ok := parsed["per_table_alignment"].(map[string]any); ok {
		for table, val := range m {
			if b, isBool := val.(bool); isBool {
				report.PerTableAlignment[table] = b
			}
		}
	}

	if list, ok := parsed["low_confidence_rows"].([]any); ok {
		for _, item := range list {
			if rec, isObj := item.(map[string]any); isObj {
				report.LowConfidenceRows = append(report.LowConfidenceRows, rec)
				continue
			}
			report.LowConfidenceRows = append(report.LowConfidenceRows, map[string]any{"value": item})
		}
	}

	switch d := parsed["discrepancies"].(type) {
	case []any:
		for _, item := range d {
			report.Discrepancies = append(report.Discrepancies, stringify(item))
		}
	case string:
		if d != "" {
			report.Discrepancies = append(report.Discrepancies, d)
		}
	}

	switch n := parsed["llm_notes"].(type) {
	case nil:
	case string:
		report.LLMNotes = &n
	default:
		s := stringify(n)
		report.LLMNotes = &s
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
