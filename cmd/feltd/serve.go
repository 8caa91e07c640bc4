package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/config"
	httpserver "github.com/fyrsmithlabs/feltd/internal/http"
	"github.com/fyrsmithlabs/feltd/internal/logging"
	"github.com/fyrsmithlabs/feltd/internal/services"
	"github.com/fyrsmithlabs/feltd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the feltd HTTP API",
		Long: `Start the feltd HTTP API.

Learned state is restored from the persistence directory on start, flushed
periodically, and flushed once more on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// runServe blocks until ctx is cancelled or the listener fails, then shuts
// everything down within cfg.Server.ShutdownTimeout.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, cfg.Server.Metrics, version), logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled {
		logCfg.Output.OTEL = true
		if bridged, err := logging.NewLogger(logCfg, tel.LoggerProvider()); err == nil {
			logger = bridged
		} else {
			logger.Warn(ctx, "otel log bridge unavailable", zap.Error(err))
		}
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting feltd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("state_dir", cfg.Persistence.Dir),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	rt, err := services.Build(ctx, cfg, logger.Underlying())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to build services: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		_ = tel.Shutdown(context.Background())
		return err
	}

	srv, err := httpserver.NewServer(rt, tel, logger.Underlying(), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Metrics: cfg.Server.Metrics,
	})
	if err != nil {
		_ = rt.Close(context.Background())
		_ = tel.Shutdown(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	errs := []error{serveErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := rt.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	logger.Info(shutdownCtx, "feltd stopped")
	return errors.Join(errs...)
}
