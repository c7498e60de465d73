package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tablenorm/internal/handler"
	"tablenorm/internal/port"
	"tablenorm/internal/router"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Starts an HTTP API that accepts document uploads at POST /api/v1/runs,
runs the pipeline on each one in turn, and serves recorded runs when run
history is enabled.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		runs   port.RunRepository
		pinger handler.Pinger
	)
	if cfg.DB.Enabled {
		repo, db, closeRuns, err := openRuns(cfg)
		if err != nil {
			return err
		}
		defer closeRuns()
		runs, pinger = repo, db
	}

	p, err := newRunner(ctx, cfg, logger, runs)
	if err != nil {
		return err
	}

	runH := handler.NewRunHandler(p, runs, cfg.Server.UploadDir, cfg.Server.MaxUploadMB<<20, logger)
	healthH := handler.NewHealthHandler(pinger)
	r := router.Setup(healthH, runH, cfg.Server.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
