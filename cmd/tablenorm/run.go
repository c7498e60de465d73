package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"tablenorm/internal/config"
	"tablenorm/internal/domain"
	"tablenorm/internal/extractor"
	"tablenorm/internal/inference"
	"tablenorm/internal/normalizer"
	"tablenorm/internal/pipeline"
	"tablenorm/internal/port"
	"tablenorm/internal/promptlog"
	s3storage "tablenorm/internal/storage/s3"
	"tablenorm/internal/validator"

	// Transports register themselves with the inference factory.
	_ "tablenorm/internal/inference/claude"
	_ "tablenorm/internal/inference/gemini"
	_ "tablenorm/internal/inference/openai"
)

// errRunFailed is returned when the pipeline finished with status failed.
var errRunFailed = errors.New("run failed")

type runner interface {
	Run(ctx context.Context, in port.RunInput) (*domain.Summary, error)
}

// newRunner wires the pipeline from configuration; replaced in tests.
var newRunner = buildPipeline

var (
	runOutput string
	runOCR    bool
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run [document]",
	Short: "Normalize the tables of a document",
	Long: `Extracts every table of the document, normalizes each one with the
configured model, writes the consolidated CSV and validates the dataset.
Tables that fail are skipped; the run fails only when nothing usable remains.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "CSV output path (defaults to the configured path)")
	runCmd.Flags().BoolVar(&runOCR, "ocr", false, "OCR pages without a text layer")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var runs port.RunRepository
	if cfg.DB.Enabled {
		repo, _, closeRuns, err := openRuns(cfg)
		if err != nil {
			return err
		}
		defer closeRuns()
		runs = repo
	}

	p, err := newRunner(ctx, cfg, logger, runs)
	if err != nil {
		return err
	}

	useOCR := cfg.Extraction.UseOCR
	if cmd.Flags().Changed("ocr") {
		useOCR = runOCR
	}

	summary, err := p.Run(ctx, port.RunInput{
		DocumentPath: args[0],
		OutputPath:   runOutput,
		UseOCR:       useOCR,
	})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if runJSON {
		if err := printJSON(cmd, summary); err != nil {
			return err
		}
	} else {
		printSummary(cmd, summary)
	}

	if !summary.Succeeded() {
		return fmt.Errorf("%w: %s", errRunFailed, summary.Reason)
	}
	return nil
}

// buildPipeline wires the pipeline from configuration. A nil runs disables
// run history.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, runs port.RunRepository) (runner, error) {
	recorder := promptlog.NewFileRecorder(cfg.Output.PromptLogDir)
	client, err := inference.NewClientFromConfig(&cfg.LLM,
		inference.WithRecorder(recorder),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithPromptLogIndex(recorder),
	}

	if cfg.S3.Enabled() {
		storage, err := s3storage.NewS3Client(ctx, &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		opts = append(opts, pipeline.WithObjectStorage(storage))
	}

	if runs != nil {
		opts = append(opts, pipeline.WithRunRepository(runs))
	}

	p := pipeline.New(
		pipeline.ConfigFrom(cfg.Output, cfg.S3),
		extractor.New(cfg.Extraction, logger),
		normalizer.New(client, cfg.LLM.PrimaryModel, logger),
		validator.New(client, cfg.LLM.ValidationModel, logger),
		opts...,
	)
	return p, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printSummary(cmd *cobra.Command, s *domain.Summary) {
	cmd.Printf("Run %s: %s\n", s.RunID, s.Status)
	if !s.Succeeded() {
		cmd.Printf("Reason: %s\n", s.Reason)
		cmd.Printf("Guidance: %s\n", s.Guidance)
	}
	cmd.Printf("Tables: %d  Rows: %d\n", s.TotalTables, s.TotalRows)

	ids := make([]string, 0, len(s.RowsPerTable))
	for id := range s.RowsPerTable {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cmd.Printf("  %s: %d rows\n", id, s.RowsPerTable[id])
	}
	for _, e := range s.TableErrors {
		cmd.Printf("  %s: skipped (%s)\n", e.TableID, e.Kind)
	}

	if s.Validation.Skipped() {
		cmd.Println("Validation: skipped")
	} else {
		r := s.Validation.Report
		cmd.Printf("Validation: alignment ok=%t, %d discrepancies, %d low-confidence rows\n",
			r.ColumnAlignmentOK, len(r.Discrepancies), len(r.LowConfidenceRows))
	}

	if s.Artifacts.CSVPath != "" {
		cmd.Printf("CSV: %s\n", s.Artifacts.CSVPath)
	}
	if s.Artifacts.ReportPath != "" {
		cmd.Printf("Report: %s\n", s.Artifacts.ReportPath)
	}
	if s.Artifacts.XLSXPath != "" {
		cmd.Printf("Workbook: %s\n", s.Artifacts.XLSXPath)
	}
	for _, loc := range s.Artifacts.Remote {
		cmd.Printf("Uploaded: %s\n", loc)
	}
}
