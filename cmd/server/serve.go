package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/step-league/api"
	"github.com/warp/step-league/batch"
	"github.com/warp/step-league/challenge"
	"github.com/warp/step-league/metrics"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if listen != "" {
				e.cfg.Server.Listen = listen
			}
			return serve(cmd.Context(), e)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")

	return cmd
}

func serve(ctx context.Context, e *env) error {
	pipeline := challenge.NewPipeline(e.store, e.calendar, e.rules, e.log)
	spool, err := batch.NewSpool(e.cfg.Uploads.Dir, e.cfg.Uploads.MaxBytes, pipeline, e.log)
	if err != nil {
		return err
	}
	boards := challenge.NewAggregator(e.store, e.calendar, e.rules)

	handler := api.NewHandler(e.store, boards, spool, metrics.Default(), e.log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: e.cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         e.cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("server starting",
			slog.String("listen", e.cfg.Server.Listen),
			slog.String("database", e.cfg.Database.Path),
			slog.String("window", fmt.Sprintf("%s..%s", e.calendar.Start, e.calendar.End)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	e.log.Info("server stopped")
	return nil
}
