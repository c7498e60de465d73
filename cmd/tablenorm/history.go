package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tablenorm/internal/config"
	"tablenorm/internal/handler"
	"tablenorm/internal/port"
	"tablenorm/internal/repository/postgres"
)

// openRuns opens the run-history store and returns it with a health probe and
// a close func; replaced in tests.
var openRuns = func(cfg *config.Config) (port.RunRepository, handler.Pinger, func(), error) {
	if !cfg.DB.Enabled {
		return nil, nil, nil, errors.New("run history is disabled (set TABLENORM_DB_ENABLED=true)")
	}
	db, err := postgres.NewDB(&cfg.DB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.NewRunRepo(db), db, func() { _ = db.Close() }, nil
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	runs, _, closeRuns, err := openRuns(cfg)
	if err != nil {
		return err
	}
	defer closeRuns()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		summary, err := runs.GetByID(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		return printJSON(cmd, summary)
	}

	summaries, err := runs.ListRecent(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(summaries) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}
	for i := range summaries {
		s := &summaries[i]
		line := fmt.Sprintf("%s  %s  %-7s  tables=%d rows=%d  %s",
			s.StartedAt.Format("2006-01-02 15:04:05"), s.RunID, s.Status, s.TotalTables, s.TotalRows, s.DocumentPath)
		if s.Reason != "" {
			line += "  (" + string(s.Reason) + ")"
		}
		cmd.Println(line)
	}
	return nil
}
