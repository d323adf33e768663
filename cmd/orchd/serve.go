package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/httpapi"
	"github.com/fyrsmithlabs/orchd/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP status API",
	Long: `Start the HTTP status server. The API reads the same durable stores the
engine writes, so it can run alongside active workflows.

Endpoints:
  GET /health
  GET /metrics
  GET /api/v1/plans
  GET /api/v1/plans/:id
  GET /api/v1/plans/:id/phases/:phase
  GET /api/v1/conflicts?status=escalated
  GET /api/v1/artifacts/:name/history
  GET /api/v1/steps/:id/gates
  GET /api/v1/handoffs/:id`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		eng, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		srv, err := httpapi.NewServer(
			eng.Plans(), eng.Conflicts(), eng.Registry(), eng.Gates(), eng.Handoffs(),
			logger, cfg.Server,
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tel, err := telemetry.Init(ctx, cfg.Telemetry, version, logger)
		if err != nil {
			return err
		}
		defer tel.Shutdown(context.Background())

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		return nil
	},
}
