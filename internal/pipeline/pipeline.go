package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tablenorm/internal/config"
	"tablenorm/internal/csvexport"
	"tablenorm/internal/domain"
	"tablenorm/internal/port"
	"tablenorm/internal/xlsxexport"
)

// Config holds artifact locations and publishing settings of a Pipeline.
type Config struct {
	CSVPath     string
	ReportPath  string
	XLSXPath    string
	CSVExcelBOM bool
	Bucket      string
	KeyPrefix   string
}

// ConfigFrom builds a pipeline Config from the loaded application config.
func ConfigFrom(out config.OutputConfig, s3 config.S3Config) Config {
	return Config{
		CSVPath:     out.CSVPath,
		ReportPath:  out.ReportPath,
		XLSXPath:    out.XLSXPath,
		CSVExcelBOM: out.CSVExcelBOM,
		Bucket:      s3.Bucket,
		KeyPrefix:   s3.Prefix,
	}
}

// Pipeline runs extraction, per-table normalization, consolidation,
// persistence and best-effort validation, strictly one table after another.
type Pipeline struct {
	cfg        Config
	extractor  port.TableExtractor
	normalizer port.TableNormalizer
	validator  port.TableValidator
	storage    port.ObjectStorage
	runs       port.RunRepository
	promptLogs port.PromptLogIndex
	logger     *slog.Logger
	now        func() time.Time
	newID      func() uuid.UUID
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObjectStorage publishes the run's artifacts to cfg.Bucket after each run.
func WithObjectStorage(s port.ObjectStorage) Option {
	return func(p *Pipeline) { p.storage = s }
}

// WithRunRepository records every run summary.
func WithRunRepository(r port.RunRepository) Option {
	return func(p *Pipeline) { p.runs = r }
}

// WithPromptLogIndex lists the prompt logs written during each run in its
// validation report.
func WithPromptLogIndex(idx port.PromptLogIndex) Option {
	return func(p *Pipeline) { p.promptLogs = idx }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline.
func New(cfg Config, extractor port.TableExtractor, normalizer port.TableNormalizer, validator port.TableValidator, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		extractor:  extractor,
		normalizer: normalizer,
		validator:  validator,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Run processes one document. Terminal failures (no tables, no rows) are
// reported in the returned Summary; a non-nil error means the run could not
// be carried out at all (unreadable document, artifact write failure,
// cancellation).
func (p *Pipeline) Run(ctx context.Context, in port.RunInput) (*domain.Summary, error) {
	summary := &domain.Summary{
		RunID:        p.newID(),
		DocumentPath: in.DocumentPath,
		RowsPerTable: map[string]int{},
		StartedAt:    p.now().UTC(),
	}
	logger := p.logger.With("run_id", summary.RunID.String())
	paths := p.artifactPaths(in)
	logMark := p.promptLogCount()

	extraction, err := p.extractor.Extract(ctx, port.ExtractInput{Path: in.DocumentPath, UseOCR: in.UseOCR})
	if err != nil {
		return nil, fmt.Errorf("pipeline.Run: extracting %s: %w", in.DocumentPath, err)
	}
	if len(extraction.Tables) == 0 {
		logger.Error("no tables found in document", "document", in.DocumentPath)
		p.fail(summary, domain.ReasonNoTablesFound, domain.GuidanceNoTables)
		p.afterRun(ctx, logger, summary)
		return summary, nil
	}
	summary.TotalTables = len(extraction.Tables)
	logger.Info("tables extracted", "count", summary.TotalTables, "context", preview(string(extraction.Context), 200))

	var consolidated []domain.NormalizedRow
	for _, table := range extraction.Tables {
		result, err := p.normalizer.Normalize(ctx, table, extraction.Context)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("pipeline.Run: normalizing %s: %w", table.TableID, ctxErr)
			}
			tErr := classifyTableError(table.TableID, err)
			summary.TableErrors = append(summary.TableErrors, tErr)
			logger.Error("table normalization failed, skipping",
				"table_id", table.TableID, "kind", string(tErr.Kind), "error", err)
			continue
		}
		consolidated = append(consolidated, result.Rows...)
		summary.RowsPerTable[table.TableID] = len(result.Rows)
		logger.Info("table normalized",
			"table_id", table.TableID, "rows", len(result.Rows), "notes", preview(strings.Join(result.Notes, "; "), 100))
	}

	if len(consolidated) == 0 {
		logger.Error("no rows were normalized", "table_errors", len(summary.TableErrors))
		p.fail(summary, domain.ReasonNormalizationFailed, guidanceFor(summary.TableErrors))
		p.afterRun(ctx, logger, summary)
		return summary, nil
	}
	summary.TotalRows = len(consolidated)

	csvPath := paths.csv
	if err := csvexport.WriteFile(csvPath, consolidated, p.cfg.CSVExcelBOM); err != nil {
		return nil, fmt.Errorf("pipeline.Run: %w", err)
	}
	summary.Artifacts.CSVPath = csvPath
	logger.Info("consolidated rows saved", "rows", summary.TotalRows, "path", csvPath)

	summary.Validation = p.validate(ctx, logger, paths.report, logMark, consolidated, summary.RowsPerTable)
	if !summary.Validation.Skipped() {
		summary.Artifacts.ReportPath = paths.report
	}

	if paths.xlsx != "" {
		if err := xlsxexport.WriteWorkbook(paths.xlsx, consolidated, summary.RowsPerTable, summary.Validation); err != nil {
			logger.Warn("writing workbook failed", "path", paths.xlsx, "error", err)
		} else {
			summary.Artifacts.XLSXPath = paths.xlsx
		}
	}

	summary.Status = domain.RunStatusSuccess
	p.afterRun(ctx, logger, summary)
	return summary, nil
}

type runPaths struct {
	csv, report, xlsx string
}

// artifactPaths resolves where this run writes its artifacts. With an
// ArtifactDir every artifact keeps its configured base name inside it.
func (p *Pipeline) artifactPaths(in port.RunInput) runPaths {
	out := runPaths{csv: p.cfg.CSVPath, report: p.cfg.ReportPath, xlsx: p.cfg.XLSXPath}
	if in.ArtifactDir != "" {
		out.csv = filepath.Join(in.ArtifactDir, filepath.Base(p.cfg.CSVPath))
		out.report = filepath.Join(in.ArtifactDir, filepath.Base(p.cfg.ReportPath))
		if p.cfg.XLSXPath != "" {
			out.xlsx = filepath.Join(in.ArtifactDir, filepath.Base(p.cfg.XLSXPath))
		}
	}
	if in.OutputPath != "" {
		out.csv = in.OutputPath
	}
	return out
}

func (p *Pipeline) promptLogCount() int {
	if p.promptLogs == nil {
		return 0
	}
	return len(p.promptLogs.Paths())
}

// validate runs the validator and writes its report. Any failure degrades to
// the skip marker. The report lists the prompt logs written after logMark.
func (p *Pipeline) validate(ctx context.Context, logger *slog.Logger, reportPath string, logMark int, rows []domain.NormalizedRow, rowsPerTable map[string]int) domain.ValidationOutcome {
	report, err := p.validator.Validate(ctx, rows, rowsPerTable)
	if err != nil {
		logger.Warn("validation failed, continuing without report", "error", err)
		return domain.ValidationOutcome{}
	}
	report.PromptLogPaths = []string{}
	if p.promptLogs != nil {
		if all := p.promptLogs.Paths(); logMark < len(all) {
			report.PromptLogPaths = append(report.PromptLogPaths, all[logMark:]...)
		}
	}
	if err := writeReport(reportPath, report); err != nil {
		logger.Warn("saving validation report failed, continuing without report", "error", err)
		return domain.ValidationOutcome{}
	}
	logger.Info("validation report saved", "path", reportPath)
	return domain.ValidationOutcome{Report: report}
}

func writeReport(path string, report *domain.ValidationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(s *domain.Summary, reason domain.FailureReason, guidance string) {
	s.Status = domain.RunStatusFailed
	s.Reason = reason
	s.Guidance = guidance
	s.TotalRows = 0
}

// afterRun publishes artifacts and records the run. Neither step changes the
// run's status.
func (p *Pipeline) afterRun(ctx context.Context, logger *slog.Logger, s *domain.Summary) {
	s.FinishedAt = p.now().UTC()

	if p.storage != nil && p.cfg.Bucket != "" {
		for _, artifact := range []struct{ path, contentType string }{
			{s.Artifacts.CSVPath, "text/csv"},
			{s.Artifacts.ReportPath, "application/json"},
			{s.Artifacts.XLSXPath, xlsxContentType},
		} {
			if artifact.path == "" {
				continue
			}
			location, err := p.upload(ctx, s.RunID, artifact.path, artifact.contentType)
			if err != nil {
				logger.Warn("artifact upload failed", "path", artifact.path, "error", err)
				continue
			}
			s.Artifacts.Remote = append(s.Artifacts.Remote, location)
		}
	}

	if p.runs != nil {
		if err := p.runs.Create(ctx, s); err != nil {
			logger.Warn("recording run history failed", "error", err)
		}
	}

	logger.Info("run finished", "status", string(s.Status), "reason", string(s.Reason),
		"tables", s.TotalTables, "rows", s.TotalRows, "duration", s.FinishedAt.Sub(s.StartedAt).String())
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (p *Pipeline) upload(ctx context.Context, runID uuid.UUID, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	out, err := p.storage.Upload(ctx, port.UploadInput{
		Bucket:      p.cfg.Bucket,
		Key:         ObjectKey(p.cfg.KeyPrefix, runID, localPath),
		Body:        f,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return out.Location, nil
}

// ObjectKey returns the storage key of an artifact: prefix/run-id/name.ext with
// the base name sanitized.
func ObjectKey(prefix string, runID uuid.UUID, localPath string) string {
	base := filepath.Base(localPath)
	ext := filepath.Ext(base)
	name := csvexport.SanitizeFilename(strings.TrimSuffix(base, ext))
	if name == "" {
		name = "artifact"
	}
	return path.Join(prefix, runID.String(), name+strings.ToLower(ext))
}

// quotaError is implemented by exhaustion errors that can tell a daily quota
// from a short-term limit.
type quotaError interface {
	Daily() bool
}

// classifyTableError maps a normalization failure to a TableError.
func classifyTableError(tableID string, err error) domain.TableError {
	kind := domain.TableErrorOther
	switch {
	case errors.Is(err, domain.ErrAllCredentialsExhausted):
		kind = domain.TableErrorRateLimit
		var qErr quotaError
		if errors.As(err, &qErr) && qErr.Daily() {
			kind = domain.TableErrorQuota
		}
	case errors.Is(err, domain.ErrNormalizationParse):
		kind = domain.TableErrorParse
	case errors.Is(err, domain.ErrProviderRejected), errors.Is(err, domain.ErrNoProviderAvailable):
		kind = domain.TableErrorProvider
	}
	return domain.TableError{TableID: tableID, Kind: kind, Message: err.Error()}
}

// guidanceFor picks the remediation advice for a run that produced no rows.
// Quota exhaustion outranks transient limits, which outrank parse failures.
func guidanceFor(errs []domain.TableError) string {
	seen := make(map[domain.TableErrorKind]bool, len(errs))
	for _, e := range errs {
		seen[e.Kind] = true
	}
	switch {
	case seen[domain.TableErrorQuota]:
		return domain.GuidanceQuotaExhausted
	case seen[domain.TableErrorRateLimit]:
		return domain.GuidanceRateLimited
	case seen[domain.TableErrorParse]:
		return domain.GuidanceParseFailed
	case seen[domain.TableErrorProvider]:
		return domain.GuidanceProviderFailure
	default:
		return domain.GuidanceNoRows
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
