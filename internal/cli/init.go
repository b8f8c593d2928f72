// Package cli builds the finboard command line: the dashboard server, the
// sheet mirror worker and a one-shot report.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"finboard/internal/config"
	applog "finboard/internal/log"
)

// SetupLogger builds the text logger at the configured level and installs
// it as the slog default.
func SetupLogger(cfg *config.Config, out io.Writer) (*applog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	lc := applog.DefaultConfig()
	lc.Level = level
	if out != nil {
		lc.Output = out
	}
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger, nil
}

// LoadAndValidateConfig loads .env (if any), reads the environment and
// validates the result.
func LoadAndValidateConfig(envFiles ...string) (*config.Config, error) {
	config.LoadEnvFile(envFiles...)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
