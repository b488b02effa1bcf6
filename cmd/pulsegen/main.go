// Package main is the entry point for the pulsegen CLI.
//
// Usage:
//
//	pulsegen serve -c pulsegen.yaml    # Run the device
//	pulsegen validate -c pulsegen.yaml # Validate configuration
//	pulsegen ports                     # List serial ports
//	pulsegen version                   # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsegen",
	Short: "A network-attached pulse generator",
	Long: `pulsegen drives a single pulse output at a configurable frequency and
width for a bounded duration, controlled from a small web UI.

Quick start:
  1. Create a config file (pulsegen.yaml)
  2. Run: pulsegen serve -c pulsegen.yaml
  3. Open http://<device address>/ in your browser

Example config:
  port: 8080
  output:
    driver: serial
    port: /dev/ttyUSB0
  mode_input:
    driver: static
    access_point: true`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsegen binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsegen %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
