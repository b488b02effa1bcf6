package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsegen/config"
)

// validateCmd validates a config file without starting the device.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pulsegen configuration file without starting the device.

This command parses the YAML, expands environment variables, and validates
all fields. Serial ports are not opened.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsegen validate -c pulsegen.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	output := cfg.Output.Driver
	if cfg.Output.Driver == config.DriverSerial {
		output = fmt.Sprintf("%s (%s @ %d baud)", cfg.Output.Driver, cfg.Output.Port, cfg.Output.Baud)
	}
	modeInput := cfg.ModeInput.Driver
	switch cfg.ModeInput.Driver {
	case config.DriverSerial:
		modeInput = fmt.Sprintf("%s (CTS on %s)", cfg.ModeInput.Driver, cfg.ModeInput.Port)
	case config.DriverStatic:
		modeInput = fmt.Sprintf("%s (access_point=%t)", cfg.ModeInput.Driver, *cfg.ModeInput.AccessPoint)
	}
	mdns := "disabled"
	if cfg.Discovery.MDNSEnabled() {
		mdns = "enabled"
	}
	discovery := "disabled"
	if cfg.Discovery.Enabled {
		discovery = fmt.Sprintf("udp port %d", cfg.Discovery.Port)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d (tls: %t)\n", cfg.Port, cfg.TLS.Enabled())
	fmt.Printf("  Tick interval: %s\n", cfg.TickInterval.Duration())
	fmt.Printf("  Settings:      %s\n", cfg.SettingsPath)
	fmt.Printf("  Output:        %s\n", output)
	fmt.Printf("  Mode input:    %s\n", modeInput)
	fmt.Printf("  mDNS:          %s\n", mdns)
	fmt.Printf("  Discovery:     %s\n", discovery)
	fmt.Printf("  Overrides:     %d\n", len(cfg.Overrides))

	return nil
}
