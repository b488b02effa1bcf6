package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsegen"
	"github.com/jpalmerr/pulsegen/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd runs the device.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pulse generator",
	Long: `Run the pulse generator.

The device will:
  - Load the boot configuration from the specified YAML file
  - Open the configured output and mode-select peripherals
  - Load the persisted settings (defaults when missing or unreadable)
  - Set up the network and serve the web UI

The device runs until interrupted (Ctrl+C) or it receives SIGTERM. The
output is driven off before the process exits.

Example:
  pulsegen serve -c pulsegen.yaml
  pulsegen serve --config /etc/pulsegen/pulsegen.yaml`,
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

	logger := newLogger(cfg.Level())
	logger.Info("config loaded",
		"port", cfg.Port,
		"output", cfg.Output.Driver,
		"mode_input", cfg.ModeInput.Driver,
		"settings_path", cfg.SettingsPath,
		"discovery", cfg.Discovery.Enabled,
		"overrides", len(cfg.Overrides),
	)

	opts, err := config.BuildOptions(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build device options: %w", err)
	}

	dev, err := pulsegen.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- dev.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("device error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("device error: %w", err)
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
