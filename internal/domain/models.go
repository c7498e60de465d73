package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawTable is one table located by the extraction collaborator.
// Absent cells are empty strings, never omitted.
type RawTable struct {
	TableID    string     `json:"table_id"`
	PageNumber int        `json:"page_number"`
	Title      string     `json:"title,omitempty"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
}

// DocumentContext is free-text guidance (title, subject, leading text, detected years)
// used only to help the model infer missing values. Empty means absent.
type DocumentContext string

// NoDocumentContext is the context produced when a document carries no usable metadata or text.
const NoDocumentContext DocumentContext = "No document context available"

// IsAbsent reports whether the context carries no guidance.
func (c DocumentContext) IsAbsent() bool {
	return c == ""
}

// NormalizedRow is one canonical row. SourceTable is a provenance back-reference
// to RawTable.TableID and is never written to the persisted artifact.
type NormalizedRow struct {
	Type        string `json:"type"`
	Article     string `json:"article"`
	Amount      string `json:"amount"`
	Year        string `json:"year"`
	SourceTable string `json:"source_table"`
}

// ValidationReport is the dataset-wide quality review produced once per run.
type ValidationReport struct {
	TotalTables       int              `json:"total_tables"`
	RowsPerTable      map[string]int   `json:"rows_per_table"`
	TotalRows         int              `json:"total_rows"`
	ColumnAlignmentOK bool             `json:"column_alignment_ok"`
	PerTableAlignment map[string]bool  `json:"per_table_alignment"`
	LowConfidenceRows []map[string]any `json:"low_confidence_rows"`
	Discrepancies     []string         `json:"discrepancies"`
	LLMNotes          *string          `json:"llm_notes"`
	PromptLogPaths    []string         `json:"prompt_log_paths"`
}

// PromptLogRecord is the write-once record of one successful inference call.
type PromptLogRecord struct {
	Timestamp string         `json:"timestamp"`
	Prompt    string         `json:"prompt"`
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata"`
}

// ChatMessage is one role-tagged message of a chat transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input of a single inference call. An empty Model selects
// the client's primary model; Metadata is forwarded to the prompt log untouched.
type ChatRequest struct {
	Messages []ChatMessage
	Model    string
	Metadata map[string]any
}

// TableError records why a table contributed no rows to the run.
type TableError struct {
	TableID string         `json:"table_id"`
	Kind    TableErrorKind `json:"kind"`
	Message string         `json:"message"`
}

// Artifacts lists where a run's outputs were written.
type Artifacts struct {
	CSVPath    string   `json:"csv_path,omitempty"`
	ReportPath string   `json:"report_path,omitempty"`
	XLSXPath   string   `json:"xlsx_path,omitempty"`
	Remote     []string `json:"remote,omitempty"`
}

// ValidationOutcome holds either a report or the skip marker. It serializes as the
// report object, or as the string "skipped".
type ValidationOutcome struct {
	Report *ValidationReport
}

// Skipped reports whether validation produced no report.
func (v ValidationOutcome) Skipped() bool {
	return v.Report == nil
}

func (v ValidationOutcome) MarshalJSON() ([]byte, error) {
	if v.Report == nil {
		return json.Marshal(ValidationSkipped)
	}
	return json.Marshal(v.Report)
}

func (v *ValidationOutcome) UnmarshalJSON(data []byte) error {
	var marker string
	if err := json.Unmarshal(data, &marker); err == nil {
		v.Report = nil
		return nil
	}
	var report ValidationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return err
	}
	v.Report = &report
	return nil
}

// Summary is the outcome of one pipeline run.
type Summary struct {
	RunID        uuid.UUID         `json:"run_id"`
	DocumentPath string            `json:"document_path"`
	Status       RunStatus         `json:"status"`
	Reason       FailureReason     `json:"reason,omitempty"`
	Guidance     string            `json:"guidance,omitempty"`
	TotalTables  int               `json:"total_tables"`
	TotalRows    int               `json:"total_rows"`
	RowsPerTable map[string]int    `json:"rows_per_table"`
	Validation   ValidationOutcome `json:"validation"`
	TableErrors  []TableError      `json:"table_errors,omitempty"`
	Artifacts    Artifacts         `json:"artifacts"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Succeeded reports whether the run produced a dataset.
func (s *Summary) Succeeded() bool {
	return s.Status == RunStatusSuccess
}
