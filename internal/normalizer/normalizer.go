// Package normalizer converts raw extracted tables into canonical rows.
package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"tablenorm/internal/domain"
	"tablenorm/internal/llmjson"
	"tablenorm/internal/port"
)

// NoRowsNote is the note returned for a table without data rows.
const NoRowsNote = "No rows in table"

// ParseError is returned when no decoding layer yields structured data.
type ParseError struct {
	TableID string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse normalization response for %s: %v (raw: %s)", e.TableID, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() []error {
	return []error{domain.ErrNormalizationParse, e.Err}
}

// Normalizer implements port.TableNormalizer with one inference call per table.
type Normalizer struct {
	llm    port.InferenceClient
	model  string
	logger *slog.Logger
}

// New creates a Normalizer. An empty model selects the client's primary model.
func New(llm port.InferenceClient, model string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		llm:    llm,
		model:  model,
		logger: logger.With("component", "normalizer"),
	}
}

type tablePayload struct {
	TableID string     `json:"table_id"`
	Title   string     `json:"title,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Normalize converts table into canonical rows. Records that cannot be coerced
// are dropped with a note; an undecodable reply fails the whole table.
func (n *Normalizer) Normalize(ctx context.Context, table domain.RawTable, docCtx domain.DocumentContext) (*port.NormalizeResult, error) {
	if len(table.Rows) == 0 {
		n.logger.Warn("table has no rows to normalize", "table_id", table.TableID)
		return &port.NormalizeResult{Rows: []domain.NormalizedRow{}, Notes: []string{NoRowsNote}}, nil
	}

	headers := table.Headers
	if headers == nil {
		headers = []string{}
	}
	payload, err := json.Marshal(tablePayload{
		TableID: table.TableID,
		Title:   table.Title,
		Headers: headers,
		Rows:    table.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("normalizer.Normalize: marshaling %s: %w", table.TableID, err)
	}

	reply, err := n.llm.Chat(ctx, domain.ChatRequest{
		Model: n.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: buildSystemPrompt(docCtx)},
			{Role: "user", Content: string(payload)},
		},
		Metadata: map[string]any{"stage": domain.StageNormalization, "table_id": table.TableID},
	})
	if err != nil {
		return nil, err
	}

	return n.decode(table.TableID, reply)
}

func (n *Normalizer) decode(tableID, reply string) (*port.NormalizeResult, error) {
	parsed, err := llmjson.DecodeArray(reply)
	if err != nil {
		n.logger.Error("normalization reply is not valid JSON",
			"table_id", tableID, "snippet", llmjson.Truncate(reply, 500))
		return nil, &ParseError{TableID: tableID, Snippet: llmjson.Truncate(reply, 200), Err: err}
	}

	var records []any
	var notes []string
	switch v := parsed.(type) {
	case []any:
		records = v
	case map[string]any:
		if rows, ok := v["rows"].([]any); ok {
			records = rows
		}
		if rawNotes, ok := v["notes"].([]any); ok {
			for _, note := range rawNotes {
				notes = append(notes, stringify(note))
			}
		}
	}

	result := &port.NormalizeResult{Rows: make([]domain.NormalizedRow, 0, len(records)), Notes: notes}
	for i, rec := range records {
		row, err := coerceRow(rec)
		if err != nil {
			n.logger.Warn("skipping invalid row", "table_id", tableID, "index", i, "error", err)
			result.Notes = append(result.Notes, "Skipped row due to validation error: "+err.Error())
			continue
		}
		row.SourceTable = tableID
		result.Rows = append(result.Rows, row)
	}
	if result.Notes == nil {
		result.Notes = []string{}
	}
	return result, nil
}

// coerceRow turns one decoded record into a NormalizedRow.
func coerceRow(rec any) (domain.NormalizedRow, error) {
	obj, ok := rec.(map[string]any)
	if !ok {
		return domain.NormalizedRow{}, fmt.Errorf("%w: record is %s, not an object", domain.ErrRowSchema, kind(rec))
	}

	var fields [4]string
	for i, name := range domain.CSVColumns {
		s, err := coerceField(obj[name])
		if err != nil {
			return domain.NormalizedRow{}, fmt.Errorf("%w: field %q: %v", domain.ErrRowSchema, name, err)
		}
		fields[i] = s
	}
	return domain.NormalizedRow{Type: fields[0], Article: fields[1], Amount: fields[2], Year: fields[3]}, nil
}

var errNotScalar = errors.New("value is not a scalar")

func coerceField(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("%w (%s)", errNotScalar, kind(v))
	}
}

func stringify(v any) string {
	if s, err := coerceField(v); err == nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func kind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
