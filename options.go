package pulsegen

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/network"
	"github.com/jpalmerr/pulsegen/internal/pulse"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

// deviceConfig holds mutable state during Device construction.
type deviceConfig struct {
	port         int
	tickInterval time.Duration
	tlsCertFile  string
	tlsKeyFile   string
	logger       *slog.Logger

	output    pulse.Output
	modeInput lifecycle.ModeInput
	network   network.Network
	clock     pulse.Clock
	backend   settings.Backend

	setup lifecycle.Config

	discovery     bool
	discoveryPort int
	mdns          bool

	overrides []form.Pair
	closers   []io.Closer
}

// Option is a function that configures a [Device] during construction.
//
// Options return an error if validation fails.
type Option func(*deviceConfig) error

// WithPort sets the HTTP port of the request server. Defaults to 80.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *deviceConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTickInterval sets the control loop period. Defaults to 5ms.
//
// Returns an error if the duration is zero or negative.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(cfg *deviceConfig) error {
		if certFile == "" || keyFile == "" {
			return errors.New("tls requires both a certificate and a key file")
		}
		cfg.tlsCertFile = certFile
		cfg.tlsKeyFile = keyFile
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the device and every component.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *deviceConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutput sets the pulse output peripheral. Defaults to a simulated
// output.
func WithOutput(out pulse.Output) Option {
	return func(cfg *deviceConfig) error {
		if out == nil {
			return errors.New("output cannot be nil")
		}
		cfg.output = out
		return nil
	}
}

// WithModeInput sets the mode-select input. Defaults to a static input
// requesting access point mode.
func WithModeInput(in lifecycle.ModeInput) Option {
	return func(cfg *deviceConfig) error {
		if in == nil {
			return errors.New("mode input cannot be nil")
		}
		cfg.modeInput = in
		return nil
	}
}

// WithNetwork sets the network stack. Defaults to the host network on every
// interface.
func WithNetwork(n network.Network) Option {
	return func(cfg *deviceConfig) error {
		if n == nil {
			return errors.New("network cannot be nil")
		}
		cfg.network = n
		return nil
	}
}

// WithClock sets the millisecond clock used for pulse durations.
func WithClock(c pulse.Clock) Option {
	return func(cfg *deviceConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithSettingsBackend sets where the persisted settings live. Defaults to
// memory, which forgets everything on restart.
func WithSettingsBackend(b settings.Backend) Option {
	return func(cfg *deviceConfig) error {
		if b == nil {
			return errors.New("settings backend cannot be nil")
		}
		cfg.backend = b
		return nil
	}
}

// WithSetupRetry tunes the network setup retry policy.
func WithSetupRetry(maxAttempts int, retryDelay time.Duration) Option {
	return func(cfg *deviceConfig) error {
		if maxAttempts <= 0 {
			return errors.New("max attempts must be positive")
		}
		if retryDelay <= 0 {
			return errors.New("retry delay must be positive")
		}
		cfg.setup = lifecycle.Config{MaxAttempts: maxAttempts, RetryDelay: retryDelay}
		return nil
	}
}

// WithDiscovery enables the UDP discovery responder on port.
func WithDiscovery(port int) Option {
	return func(cfg *deviceConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("discovery port must be between 1 and 65535")
		}
		cfg.discovery = true
		cfg.discoveryPort = port
		return nil
	}
}

// WithMDNS registers the configured mDNS name (settings key 106) as a
// DNS-SD service whenever the request server is brought up. The service is
// _https._tcp when TLS is configured and _http._tcp otherwise.
func WithMDNS() Option {
	return func(cfg *deviceConfig) error {
		cfg.mdns = true
		return nil
	}
}

// WithOverrides applies key/value pairs at boot, after the persisted
// settings are loaded. Setting keys and pulse keys may be mixed. They are
// applied in order and a rejected pair fails [New].
func WithOverrides(pairs ...form.Pair) Option {
	return func(cfg *deviceConfig) error {
		cfg.overrides = append(cfg.overrides, pairs...)
		return nil
	}
}

// WithCloser registers a resource, such as a serial port, that the device
// closes when it stops.
func WithCloser(c io.Closer) Option {
	return func(cfg *deviceConfig) error {
		if c != nil {
			cfg.closers = append(cfg.closers, c)
		}
		return nil
	}
}
