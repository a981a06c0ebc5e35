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

	"github.com/ctolnik/office-insight/server/tracing"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, logger, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() {
				if err := a.close(); err != nil {
					logger.Warn("Failed to close resources", zap.Error(err))
				}
			}()
			if port != 0 {
				a.cfg.Server.Port = port
			}

			shutdownTracing, err := tracing.Setup(a.cfg.Telemetry.Tracing, a.cfg.Telemetry.TraceOutput, version)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(flushCtx)
			}()

			ctx = zapctx.WithLogger(ctx, logger)
			go func() {
				if err := a.connectStore(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Record store never became ready", zap.Error(err))
				}
			}()

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           a.handler(logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Server starting", zap.String("address", addr), zap.String("version", version))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("failed to start server: %w", err)
			case <-ctx.Done():
				logger.Info("Shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	return cmd
}
