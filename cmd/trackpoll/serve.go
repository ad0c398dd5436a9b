package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/trackpoll"
	"github.com/jpalmerr/trackpoll/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts polling and the session API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the poller and session API",
	Long: `Start trackpoll.

The server will:
  - Load configuration from the specified YAML file
  - Resume sessions persisted by a previous run
  - Poll the tracking API for every active session
  - Serve the session API, event stream and metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  trackpoll serve -c config.yaml
  trackpoll serve --config /etc/trackpoll/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// validated by config.Load
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := newLogger(os.Stderr, level)

	logger.Info("config loaded",
		"probe_url", cfg.Probe.BaseURL,
		"store", cfg.Store.Type,
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"initial_interval", cfg.Polling.InitialInterval.Duration().String(),
		"max_interval", cfg.Polling.MaxInterval.Duration().String(),
		"max_lifetime", cfg.Polling.MaxLifetime.Duration().String(),
	)

	tr, err := trackpoll.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, tr, logger)
}

// serve runs tr until ctx is cancelled, bounding how long shutdown may take.
func serve(ctx context.Context, tr *trackpoll.Tracker, logger *slog.Logger) error {
	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- tr.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
