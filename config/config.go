// Package config provides YAML boot configuration for pulsegen.
//
// The boot configuration describes the host side of the device: which
// peripherals drive the output and the mode select, where the persisted
// settings live, and how the request server listens. Device settings that
// users edit through the web UI (network names, credentials, safety maxima)
// live in the settings blob, not here; the overrides list can seed them.
//
// Example configuration:
//
//	port: 443
//	tick_interval: 5ms
//	settings_path: /var/lib/pulsegen/settings.json
//	log_level: info
//
//	tls:
//	  cert_file: ${PULSEGEN_CERT}
//	  key_file: ${PULSEGEN_KEY}
//
//	output:
//	  driver: serial
//	  port: /dev/ttyUSB0
//	  baud: 115200
//
//	mode_input:
//	  driver: serial
//
//	discovery:
//	  mdns: true
//	  enabled: true
//
//	overrides:
//	  - key: 106
//	    value: bench-generator
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/pulsegen/internal/discovery"
	"github.com/jpalmerr/pulsegen/internal/form"
)

const (
	defaultPort         = 80
	defaultTickInterval = 5 * time.Millisecond
	defaultSettingsPath = "/var/lib/pulsegen/settings.json"
	defaultLogLevel     = "info"
	defaultBaud         = 115200
	defaultMaxAttempts  = 32
	defaultRetryDelay   = 500 * time.Millisecond

	minTickInterval = time.Millisecond
	maxTickInterval = time.Second
	minRetryDelay   = 10 * time.Millisecond
)

// Output and input drivers.
const (
	DriverSim    = "sim"
	DriverSerial = "serial"
	DriverStatic = "static"
	DriverHost   = "host"
)

// Config is the root boot configuration.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the request server port. Defaults to 80.
	Port int `yaml:"port"`

	// TickInterval is the control loop period. Defaults to 5ms.
	TickInterval Duration `yaml:"tick_interval"`

	// SettingsPath is the file holding the persisted settings blob.
	// Supports environment variable substitution.
	SettingsPath string `yaml:"settings_path"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	TLS       TLSConfig       `yaml:"tls"`
	Output    OutputConfig    `yaml:"output"`
	ModeInput ModeInputConfig `yaml:"mode_input"`
	Network   NetworkConfig   `yaml:"network"`
	Setup     SetupConfig     `yaml:"setup"`
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Overrides are key/value pairs applied at boot, in order, after the
	// persisted settings are loaded.
	Overrides []Override `yaml:"overrides"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// OutputConfig selects the pulse output peripheral.
type OutputConfig struct {
	// Driver is "sim" (default) or "serial".
	Driver string `yaml:"driver"`

	// Port is the serial device, required for the serial driver.
	Port string `yaml:"port"`

	// Baud is the serial baud rate. Defaults to 115200.
	Baud int `yaml:"baud"`
}

// ModeInputConfig selects the mode-select input.
type ModeInputConfig struct {
	// Driver is "static" (default) or "serial". The serial driver reads the
	// CTS line.
	Driver string `yaml:"driver"`

	// Port is the serial device for the serial driver. Defaults to the
	// output port.
	Port string `yaml:"port"`

	// AccessPoint is the level of the static driver. Defaults to true, so a
	// fresh device comes up in access point mode.
	AccessPoint *bool `yaml:"access_point"`
}

// NetworkConfig selects the network stack.
type NetworkConfig struct {
	// Driver is "host" (default).
	Driver string `yaml:"driver"`

	// Interface restricts the host driver to one interface.
	Interface string `yaml:"interface"`
}

// SetupConfig tunes the network setup retry policy.
type SetupConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	RetryDelay  Duration `yaml:"retry_delay"`
}

// DiscoveryConfig configures name registration. MDNS defaults to true;
// Enabled turns on the UDP probe responder on Port.
type DiscoveryConfig struct {
	MDNS    *bool `yaml:"mdns"`
	Enabled bool  `yaml:"enabled"`
	Port    int   `yaml:"port"`
}

// MDNSEnabled reports whether the mDNS name is registered.
func (d DiscoveryConfig) MDNSEnabled() bool {
	return d.MDNS == nil || *d.MDNS
}

// Override is a single boot key/value pair.
type Override struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, expands
// environment variables in paths and override values, and validates the
// result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.TickInterval == 0 {
		c.TickInterval = Duration(defaultTickInterval)
	}
	if c.SettingsPath == "" {
		c.SettingsPath = defaultSettingsPath
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Output.Driver == "" {
		c.Output.Driver = DriverSim
	}
	if c.Output.Baud == 0 {
		c.Output.Baud = defaultBaud
	}
	if c.ModeInput.Driver == "" {
		c.ModeInput.Driver = DriverStatic
	}
	if c.ModeInput.AccessPoint == nil {
		ap := true
		c.ModeInput.AccessPoint = &ap
	}
	if c.Network.Driver == "" {
		c.Network.Driver = DriverHost
	}
	if c.Setup.MaxAttempts == 0 {
		c.Setup.MaxAttempts = defaultMaxAttempts
	}
	if c.Setup.RetryDelay == 0 {
		c.Setup.RetryDelay = Duration(defaultRetryDelay)
	}
	if c.Discovery.Port == 0 {
		c.Discovery.Port = discovery.DefaultPort
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if d := c.TickInterval.Duration(); d < minTickInterval || d > maxTickInterval {
		return fmt.Errorf("tick_interval must be between %s and %s, got %s", minTickInterval, maxTickInterval, d)
	}

	var err error
	if c.SettingsPath, err = expandEnvVars(c.SettingsPath); err != nil {
		return fmt.Errorf("settings_path: %w", err)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.TLS.CertFile, err = expandEnvVars(c.TLS.CertFile); err != nil {
		return fmt.Errorf("tls.cert_file: %w", err)
	}
	if c.TLS.KeyFile, err = expandEnvVars(c.TLS.KeyFile); err != nil {
		return fmt.Errorf("tls.key_file: %w", err)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file must be set together")
	}

	if c.Output.Port, err = expandEnvVars(c.Output.Port); err != nil {
		return fmt.Errorf("output.port: %w", err)
	}
	switch c.Output.Driver {
	case DriverSim:
	case DriverSerial:
		if c.Output.Port == "" {
			return fmt.Errorf("output: driver %q requires a port", DriverSerial)
		}
	default:
		return fmt.Errorf("output: driver must be %q or %q, got %q", DriverSim, DriverSerial, c.Output.Driver)
	}
	if c.Output.Baud < 0 {
		return fmt.Errorf("output: baud cannot be negative, got %d", c.Output.Baud)
	}

	if c.ModeInput.Port, err = expandEnvVars(c.ModeInput.Port); err != nil {
		return fmt.Errorf("mode_input.port: %w", err)
	}
	switch c.ModeInput.Driver {
	case DriverStatic:
	case DriverSerial:
		if c.ModeInput.Port == "" {
			c.ModeInput.Port = c.Output.Port
		}
		if c.ModeInput.Port == "" {
			return fmt.Errorf("mode_input: driver %q requires a port", DriverSerial)
		}
	default:
		return fmt.Errorf("mode_input: driver must be %q or %q, got %q", DriverStatic, DriverSerial, c.ModeInput.Driver)
	}

	if c.Network.Driver != DriverHost {
		return fmt.Errorf("network: driver must be %q, got %q", DriverHost, c.Network.Driver)
	}

	if c.Setup.MaxAttempts < 1 {
		return fmt.Errorf("setup: max_attempts must be at least 1, got %d", c.Setup.MaxAttempts)
	}
	if d := c.Setup.RetryDelay.Duration(); d < minRetryDelay {
		return fmt.Errorf("setup: retry_delay must be at least %s, got %s", minRetryDelay, d)
	}

	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery: port must be between 1 and 65535, got %d", c.Discovery.Port)
	}

	for i := range c.Overrides {
		o := &c.Overrides[i]
		o.Key = strings.TrimSpace(o.Key)
		if o.Key == "" {
			return fmt.Errorf("overrides[%d]: key is required", i)
		}
		if _, ok := form.ParseKey(o.Key); !ok {
			return fmt.Errorf("overrides[%d]: key must be a number, got %q", i, o.Key)
		}
		if o.Value, err = expandEnvVars(o.Value); err != nil {
			return fmt.Errorf("overrides[%d] (%s): value: %w", i, o.Key, err)
		}
	}

	return nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}
