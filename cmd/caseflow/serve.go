package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"caseflow-backend/internal/bootstrap"
	"caseflow-backend/internal/shared/server"
	"caseflow-backend/internal/shared/telemetry"
)

const defaultShutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		migrate         bool
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Migrate: migrate})
			if err != nil {
				return err
			}
			if app.DB != nil {
				defer app.DB.Close()
			}

			srv := &http.Server{
				Addr:              server.Addr(cfg.Port),
				Handler:           app.Router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				telemetry.Info("server.start", map[string]any{"addr": srv.Addr, "env": cfg.Env})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			telemetry.Info("server.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "run pending migrations before serving")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "grace period for in-flight requests")
	return cmd
}
