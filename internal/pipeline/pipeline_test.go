package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablenorm/internal/domain"
	"tablenorm/internal/inference"
	"tablenorm/internal/normalizer"
	"tablenorm/internal/pipeline"
	"tablenorm/internal/port"
	"tablenorm/internal/promptlog"
	"tablenorm/mocks"
)

const docCtx = domain.DocumentContext("Title: Budget 2024")

type fixture struct {
	dir        string
	cfg        pipeline.Config
	extractor  *mocks.MockTableExtractor
	normalizer *mocks.MockTableNormalizer
	validator  *mocks.MockTableValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir: dir,
		cfg: pipeline.Config{
			CSVPath:    filepath.Join(dir, "outputs", "consolidated.csv"),
			ReportPath: filepath.Join(dir, "outputs", "validation_report.json"),
		},
		extractor:  new(mocks.MockTableExtractor),
		normalizer: new(mocks.MockTableNormalizer),
		validator:  new(mocks.MockTableValidator),
	}
}

func (f *fixture) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(f.cfg, f.extractor, f.normalizer, f.validator, opts...)
}

func (f *fixture) extracts(tables ...domain.RawTable) {
	f.extractor.On("Extract", mock.Anything, port.ExtractInput{Path: "budget.pdf"}).
		Return(&port.Extraction{Tables: tables, Context: docCtx}, nil)
}

func table(id string) domain.RawTable {
	return domain.RawTable{
		TableID: id,
		Headers: []string{"Item", "2024"},
		Rows:    [][]string{{"Rent", "1500"}},
	}
}

func rows(tableID string, n int) *port.NormalizeResult {
	out := make([]domain.NormalizedRow, n)
	for i := range out {
		out[i] = domain.NormalizedRow{Type: "expense", Article: "Rent", Amount: "1500", Year: "2024", SourceTable: tableID}
	}
	return &port.NormalizeResult{Rows: out}
}

func TestRun_NoTablesFound(t *testing.T) {
	f := newFixture(t)
	f.extracts()

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)
	assert.Equal(t, domain.ReasonNoTablesFound, summary.Reason)
	assert.Equal(t, domain.GuidanceNoTables, summary.Guidance)
	assert.Zero(t, summary.TotalTables)
	assert.Zero(t, summary.TotalRows)
	assert.True(t, summary.Validation.Skipped())
	f.normalizer.AssertNotCalled(t, "Normalize", mock.Anything, mock.Anything, mock.Anything)
	f.validator.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
	assert.NoFileExists(t, f.cfg.CSVPath)
}

func TestRun_ExtractionError(t *testing.T) {
	f := newFixture(t)
	f.extractor.On("Extract", mock.Anything, mock.Anything).Return(nil, domain.ErrUnsupportedDocument)

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.doc"})

	assert.Nil(t, summary)
	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)
}

func TestRun_TableIsolation(t *testing.T) {
	f := newFixture(t)
	t1, t2, t3 := table("p1_t1"), table("p2_t1"), table("p3_t1")
	f.extracts(t1, t2, t3)
	f.normalizer.On("Normalize", mock.Anything, t1, docCtx).Return(rows("p1_t1", 2), nil)
	f.normalizer.On("Normalize", mock.Anything, t2, docCtx).
		Return(nil, &normalizer.ParseError{TableID: "p2_t1", Snippet: "not json", Err: errors.New("no JSON found")})
	f.normalizer.On("Normalize", mock.Anything, t3, docCtx).Return(rows("p3_t1", 3), nil)
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(&domain.ValidationReport{TotalRows: 5}, nil)

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, summary.Status)
	assert.Empty(t, summary.Reason)
	assert.Equal(t, 3, summary.TotalTables)
	assert.Equal(t, 5, summary.TotalRows)
	assert.Equal(t, map[string]int{"p1_t1": 2, "p3_t1": 3}, summary.RowsPerTable)

	sum := 0
	for _, n := range summary.RowsPerTable {
		sum += n
	}
	assert.Equal(t, summary.TotalRows, sum)

	require.Len(t, summary.TableErrors, 1)
	assert.Equal(t, "p2_t1", summary.TableErrors[0].TableID)
	assert.Equal(t, domain.TableErrorParse, summary.TableErrors[0].Kind)

	validated := f.validator.Calls[0].Arguments.Get(1).([]domain.NormalizedRow)
	require.Len(t, validated, 5)
	assert.Equal(t, "p1_t1", validated[0].SourceTable)
	assert.Equal(t, "p3_t1", validated[4].SourceTable)
}

func TestRun_WritesCSVWithoutProvenance(t *testing.T) {
	f := newFixture(t)
	f.extracts(table("p1_t1"))
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(rows("p1_t1", 1), nil)
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	out := filepath.Join(f.dir, "custom", "out.csv")
	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf", OutputPath: out})

	require.NoError(t, err)
	assert.Equal(t, out, summary.Artifacts.CSVPath)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "type,article,amount,year\nexpense,Rent,1500,2024\n", string(data))
	assert.NotContains(t, string(data), "source_table")
	assert.NoFileExists(t, f.cfg.CSVPath)
}

func TestRun_ValidationFailureIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.extracts(table("p1_t1"))
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(rows("p1_t1", 2), nil)
	exhausted := &inference.ExhaustedError{Provider: "groq", Class: inference.ClassDailyQuota, Attempts: 3, Last: errors.New("429")}
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(nil, exhausted)

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, summary.Status)
	assert.True(t, summary.Validation.Skipped())
	assert.Empty(t, summary.Artifacts.ReportPath)
	assert.NoFileExists(t, f.cfg.ReportPath)

	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"validation":"skipped"`)
}

func TestRun_WritesValidationReport(t *testing.T) {
	f := newFixture(t)
	f.extracts(table("p1_t1"))
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(rows("p1_t1", 2), nil)
	report := &domain.ValidationReport{
		TotalTables:       1,
		RowsPerTable:      map[string]int{"p1_t1": 2},
		TotalRows:         2,
		ColumnAlignmentOK: true,
		Discrepancies:     []string{},
		PromptLogPaths:    []string{},
	}
	f.validator.On("Validate", mock.Anything, mock.Anything, map[string]int{"p1_t1": 2}).Return(report, nil)

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	require.False(t, summary.Validation.Skipped())
	assert.Same(t, report, summary.Validation.Report)
	assert.Equal(t, f.cfg.ReportPath, summary.Artifacts.ReportPath)

	data, err := os.ReadFile(f.cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"total_tables\": 1")
	var decoded domain.ValidationReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.TotalRows)
	assert.Nil(t, decoded.LLMNotes)
}

func TestRun_NormalizationFailedGuidance(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     domain.TableErrorKind
		guidance string
	}{
		{
			name:     "daily quota",
			err:      &inference.ExhaustedError{Provider: "groq", Class: inference.ClassDailyQuota, Last: errors.New("TPD")},
			kind:     domain.TableErrorQuota,
			guidance: domain.GuidanceQuotaExhausted,
		},
		{
			name:     "transient rate limit",
			err:      &inference.ExhaustedError{Provider: "groq", Class: inference.ClassRateLimit, Last: errors.New("429")},
			kind:     domain.TableErrorRateLimit,
			guidance: domain.GuidanceRateLimited,
		},
		{
			name:     "parse",
			err:      &normalizer.ParseError{TableID: "p1_t1", Err: errors.New("no JSON found")},
			kind:     domain.TableErrorParse,
			guidance: domain.GuidanceParseFailed,
		},
		{
			name:     "provider",
			err:      &inference.ProviderError{Provider: "groq", StatusCode: 401, Body: "invalid api key"},
			kind:     domain.TableErrorProvider,
			guidance: domain.GuidanceProviderFailure,
		},
		{
			name:     "other",
			err:      errors.New("connection reset"),
			kind:     domain.TableErrorOther,
			guidance: domain.GuidanceNoRows,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.extracts(table("p1_t1"), table("p2_t1"))
			f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(nil, tt.err)

			summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

			require.NoError(t, err)
			assert.Equal(t, domain.RunStatusFailed, summary.Status)
			assert.Equal(t, domain.ReasonNormalizationFailed, summary.Reason)
			assert.Equal(t, tt.guidance, summary.Guidance)
			assert.Equal(t, 2, summary.TotalTables)
			assert.Zero(t, summary.TotalRows)
			require.Len(t, summary.TableErrors, 2)
			assert.Equal(t, tt.kind, summary.TableErrors[1].Kind)
			f.normalizer.AssertNumberOfCalls(t, "Normalize", 2)
			f.validator.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
			assert.NoFileExists(t, f.cfg.CSVPath)
		})
	}
}

func TestRun_QuotaOutranksOtherFailures(t *testing.T) {
	f := newFixture(t)
	t1, t2 := table("p1_t1"), table("p2_t1")
	f.extracts(t1, t2)
	f.normalizer.On("Normalize", mock.Anything, t1, docCtx).
		Return(nil, &normalizer.ParseError{TableID: "p1_t1", Err: errors.New("bad")})
	f.normalizer.On("Normalize", mock.Anything, t2, docCtx).
		Return(nil, &inference.ExhaustedError{Provider: "groq", Class: inference.ClassDailyQuota, Last: errors.New("RPD")})

	summary, err := f.pipeline().Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.GuidanceQuotaExhausted, summary.Guidance)
}

func TestRun_CancelledDuringNormalization(t *testing.T) {
	f := newFixture(t)
	f.extracts(table("p1_t1"), table("p2_t1"))
	ctx, cancel := context.WithCancel(context.Background())
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	summary, err := f.pipeline().Run(ctx, port.RunInput{DocumentPath: "budget.pdf"})

	assert.Nil(t, summary)
	assert.ErrorIs(t, err, context.Canceled)
	f.normalizer.AssertNumberOfCalls(t, "Normalize", 1)
}

func TestRun_PublishesArtifactsAndRecordsRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Bucket = "runs"
	f.cfg.KeyPrefix = "tablenorm"
	f.cfg.XLSXPath = filepath.Join(f.dir, "outputs", "consolidated.xlsx")
	f.extracts(table("p1_t1"))
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(rows("p1_t1", 1), nil)
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.ValidationReport{TotalRows: 1, ColumnAlignmentOK: true}, nil)

	storage := new(mocks.MockObjectStorage)
	var csvBody string
	storage.On("Upload", mock.Anything, mock.MatchedBy(func(in port.UploadInput) bool {
		return in.ContentType == "text/csv"
	})).Run(func(args mock.Arguments) {
		data, _ := io.ReadAll(args.Get(1).(port.UploadInput).Body)
		csvBody = string(data)
	}).Return(&port.UploadOutput{Location: "s3://runs/consolidated.csv"}, nil)
	storage.On("Upload", mock.Anything, mock.MatchedBy(func(in port.UploadInput) bool {
		return in.ContentType == "application/json"
	})).Return(&port.UploadOutput{Location: "s3://runs/validation_report.json"}, nil)
	storage.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	runs := new(mocks.MockRunRepository)
	runs.On("Create", mock.Anything, mock.AnythingOfType("*domain.Summary")).Return(nil)

	summary, err := f.pipeline(pipeline.WithObjectStorage(storage), pipeline.WithRunRepository(runs)).
		Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, summary.Status)
	assert.Equal(t, f.cfg.XLSXPath, summary.Artifacts.XLSXPath)
	assert.FileExists(t, f.cfg.XLSXPath)
	assert.Equal(t, []string{"s3://runs/consolidated.csv", "s3://runs/validation_report.json"}, summary.Artifacts.Remote)
	assert.True(t, strings.HasPrefix(csvBody, "type,article,amount,year\n"))
	storage.AssertNumberOfCalls(t, "Upload", 3)

	key := storage.Calls[0].Arguments.Get(1).(port.UploadInput).Key
	assert.Equal(t, "tablenorm/"+summary.RunID.String()+"/consolidated.csv", key)

	runs.AssertCalled(t, "Create", mock.Anything, summary)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestRun_HistoryFailureKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.extracts()
	runs := new(mocks.MockRunRepository)
	runs.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	summary, err := f.pipeline(pipeline.WithRunRepository(runs)).
		Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)
	assert.Equal(t, domain.ReasonNoTablesFound, summary.Reason)
	runs.AssertExpectations(t)
}

func TestRun_StorageWithoutBucketIsIdle(t *testing.T) {
	f := newFixture(t)
	f.extracts(table("p1_t1"))
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).Return(rows("p1_t1", 1), nil)
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("skip"))
	storage := new(mocks.MockObjectStorage)

	summary, err := f.pipeline(pipeline.WithObjectStorage(storage)).
		Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf"})

	require.NoError(t, err)
	assert.Empty(t, summary.Artifacts.Remote)
	storage.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
}

func TestRun_ArtifactsAndPromptLogsScopedToRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.XLSXPath = filepath.Join(f.dir, "outputs", "consolidated.xlsx")
	recorder := promptlog.NewFileRecorder(filepath.Join(f.dir, "prompts"))
	f.extractor.On("Extract", mock.Anything, mock.Anything).
		Return(&port.Extraction{Tables: []domain.RawTable{table("p1_t1")}, Context: docCtx}, nil)
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, docCtx).
		Run(func(mock.Arguments) {
			_, err := recorder.Record(domain.PromptLogRecord{Prompt: "system: normalize", Response: "[]"})
			require.NoError(t, err)
		}).
		Return(rows("p1_t1", 1), nil)
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.ValidationReport{TotalRows: 1}, nil).Once()
	f.validator.On("Validate", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.ValidationReport{TotalRows: 1}, nil).Once()
	p := f.pipeline(pipeline.WithPromptLogIndex(recorder))

	dirA, dirB := filepath.Join(f.dir, "run-a"), filepath.Join(f.dir, "run-b")
	first, err := p.Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf", ArtifactDir: dirA})
	require.NoError(t, err)
	second, err := p.Run(context.Background(), port.RunInput{DocumentPath: "budget.pdf", ArtifactDir: dirB})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dirA, "consolidated.csv"), first.Artifacts.CSVPath)
	assert.Equal(t, filepath.Join(dirA, "validation_report.json"), first.Artifacts.ReportPath)
	assert.Equal(t, filepath.Join(dirA, "consolidated.xlsx"), first.Artifacts.XLSXPath)
	assert.Equal(t, filepath.Join(dirB, "validation_report.json"), second.Artifacts.ReportPath)
	assert.FileExists(t, first.Artifacts.ReportPath)
	assert.FileExists(t, second.Artifacts.ReportPath)
	assert.NoFileExists(t, f.cfg.CSVPath)
	assert.NoFileExists(t, f.cfg.ReportPath)

	all := recorder.Paths()
	require.Len(t, all, 2)
	assert.Equal(t, all[:1], first.Validation.Report.PromptLogPaths)
	assert.Equal(t, all[1:], second.Validation.Report.PromptLogPaths)

	data, err := os.ReadFile(first.Artifacts.ReportPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), filepath.Base(all[1]))
}
