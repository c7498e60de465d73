package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablenorm/internal/config"
	"tablenorm/internal/domain"
	"tablenorm/internal/handler"
	"tablenorm/internal/port"
	"tablenorm/mocks"
)

type fakeRunner struct {
	summary *domain.Summary
	err     error
	got     port.RunInput
}

func (f *fakeRunner) Run(_ context.Context, in port.RunInput) (*domain.Summary, error) {
	f.got = in
	return f.summary, f.err
}

// execute runs rootCmd with args against a stubbed config and returns its output.
func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()

	oldLoad, oldLogger := loadConfig, newLogger
	t.Cleanup(func() { loadConfig, newLogger = oldLoad, oldLogger })
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	newLogger = func(*cobra.Command, *config.Config) (*slog.Logger, error) {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func stubRunner(r runner) {
	newRunner = func(context.Context, *config.Config, *slog.Logger, port.RunRepository) (runner, error) {
		return r, nil
	}
}

func successSummary() *domain.Summary {
	return &domain.Summary{
		RunID:        uuid.MustParse("0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10"),
		Status:       domain.RunStatusSuccess,
		TotalTables:  2,
		TotalRows:    5,
		RowsPerTable: map[string]int{"p2_t1": 3, "p1_t1": 2},
		Validation:   domain.ValidationOutcome{Report: &domain.ValidationReport{ColumnAlignmentOK: true, Discrepancies: []string{"x"}}},
		Artifacts:    domain.Artifacts{CSVPath: "outputs/consolidated.csv", ReportPath: "outputs/validation_report.json"},
	}
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, &config.Config{}, "version")

	assert.NoError(t, err)
	assert.Contains(t, out, "tablenorm version test-version-1.0.0")
}

func TestRunCmd_Success(t *testing.T) {
	r := &fakeRunner{summary: successSummary()}
	cfg := &config.Config{Extraction: config.ExtractionConfig{UseOCR: true}}

	oldRunner := newRunner
	defer func() { newRunner = oldRunner }()
	stubRunner(r)
	out, err := execute(t, cfg, "run", "budget.pdf", "-o", "out.csv")

	require.NoError(t, err)
	assert.Equal(t, port.RunInput{DocumentPath: "budget.pdf", OutputPath: "out.csv", UseOCR: true}, r.got)
	assert.Contains(t, out, "Run 0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10: success")
	assert.Contains(t, out, "Tables: 2  Rows: 5")
	assert.Less(t, bytes.Index([]byte(out), []byte("p1_t1")), bytes.Index([]byte(out), []byte("p2_t1")))
	assert.Contains(t, out, "Validation: alignment ok=true, 1 discrepancies")
	assert.Contains(t, out, "CSV: outputs/consolidated.csv")
}

func TestRunCmd_OCRFlagOverridesConfig(t *testing.T) {
	r := &fakeRunner{summary: successSummary()}
	cfg := &config.Config{Extraction: config.ExtractionConfig{UseOCR: true}}

	oldRunner := newRunner
	defer func() { newRunner = oldRunner }()
	stubRunner(r)
	_, err := execute(t, cfg, "run", "budget.pdf", "--ocr=false")

	require.NoError(t, err)
	assert.False(t, r.got.UseOCR)
	assert.Empty(t, r.got.OutputPath)
}

func TestRunCmd_FailedSummary(t *testing.T) {
	r := &fakeRunner{summary: &domain.Summary{
		Status:   domain.RunStatusFailed,
		Reason:   domain.ReasonNoTablesFound,
		Guidance: domain.GuidanceNoTables,
	}}
	oldRunner := newRunner
	defer func() { newRunner = oldRunner }()
	stubRunner(r)

	out, err := execute(t, &config.Config{}, "run", "empty.pdf")

	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, err.Error(), "no_tables_found")
	assert.Contains(t, out, "Guidance: "+domain.GuidanceNoTables)
	assert.Contains(t, out, "Validation: skipped")
}

func TestRunCmd_JSON(t *testing.T) {
	s := successSummary()
	s.Validation = domain.ValidationOutcome{}
	oldRunner := newRunner
	defer func() { newRunner = oldRunner }()
	stubRunner(&fakeRunner{summary: s})

	out, err := execute(t, &config.Config{}, "run", "budget.pdf", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"validation": "skipped"`)
	assert.Contains(t, out, `"status": "success"`)
}

func TestRunCmd_RunnerError(t *testing.T) {
	oldRunner := newRunner
	defer func() { newRunner = oldRunner }()
	stubRunner(&fakeRunner{err: domain.ErrDocumentNotFound})

	_, err := execute(t, &config.Config{}, "run", "missing.pdf")

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestRunCmd_RequiresDocument(t *testing.T) {
	_, err := execute(t, &config.Config{}, "run")
	assert.Error(t, err)
}

func TestSetup_ConfigError(t *testing.T) {
	oldLoad := loadConfig
	defer func() { loadConfig = oldLoad }()
	loadConfig = func() (*config.Config, error) { return nil, errors.New("bad routes") }

	_, _, err := setup(runCmd)

	assert.ErrorContains(t, err, "failed to load config: bad routes")
}

func stubRuns(repo port.RunRepository) {
	openRuns = func(*config.Config) (port.RunRepository, handler.Pinger, func(), error) {
		return repo, nil, func() {}, nil
	}
}

func TestHistoryCmd_Disabled(t *testing.T) {
	_, err := execute(t, &config.Config{}, "history")
	assert.ErrorContains(t, err, "run history is disabled")
}

func TestHistoryCmd_ListRecent(t *testing.T) {
	repo := new(mocks.MockRunRepository)
	started := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	repo.On("ListRecent", mock.Anything, 5).Return([]domain.Summary{
		{RunID: uuid.MustParse("0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10"), Status: domain.RunStatusSuccess,
			TotalTables: 2, TotalRows: 5, DocumentPath: "budget.pdf", StartedAt: started},
		{RunID: uuid.MustParse("5d2c1e0f-1111-4a2b-9c3d-4e5f60718293"), Status: domain.RunStatusFailed,
			Reason: domain.ReasonNormalizationFailed, DocumentPath: "scan.pdf", StartedAt: started.Add(-time.Hour)},
	}, nil)

	oldRuns := openRuns
	defer func() { openRuns = oldRuns }()
	stubRuns(repo)
	out, err := execute(t, &config.Config{}, "history", "-n", "5")

	require.NoError(t, err)
	assert.Contains(t, out, "2024-05-02 09:30:00  0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10  success")
	assert.Contains(t, out, "(normalization_failed)")
	repo.AssertExpectations(t)
}

func TestHistoryCmd_Empty(t *testing.T) {
	repo := new(mocks.MockRunRepository)
	repo.On("ListRecent", mock.Anything, 20).Return([]domain.Summary{}, nil)

	oldRuns := openRuns
	defer func() { openRuns = oldRuns }()
	stubRuns(repo)
	out, err := execute(t, &config.Config{}, "history")

	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestHistoryCmd_Show(t *testing.T) {
	id := uuid.MustParse("0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10")
	repo := new(mocks.MockRunRepository)
	repo.On("GetByID", mock.Anything, id).Return(successSummary(), nil)

	oldRuns := openRuns
	defer func() { openRuns = oldRuns }()
	stubRuns(repo)
	out, err := execute(t, &config.Config{}, "history", id.String())

	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "0b8f4a57-93a4-4c38-8f0e-5b1f8c2d9a10"`)
}

func TestHistoryCmd_InvalidID(t *testing.T) {
	oldRuns := openRuns
	defer func() { openRuns = oldRuns }()
	stubRuns(new(mocks.MockRunRepository))

	_, err := execute(t, &config.Config{}, "history", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid run id")
}
