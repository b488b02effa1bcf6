package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jpalmerr/pulsegen"
	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/hw"
	"github.com/jpalmerr/pulsegen/internal/network"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

// Port is an open serial port as used by the serial drivers.
type Port interface {
	io.Writer
	io.Closer
	hw.ModemStatusReader
}

// openPort opens serial ports. Tests replace it.
var openPort = func(name string, baud int) (Port, error) {
	return hw.OpenPort(name, baud)
}

// BuildOptions converts parsed configuration into device options.
//
// Serial ports named by the output and mode input are opened here, once per
// device path, and registered with the device so that it closes them on
// shutdown. On error every port opened so far is closed.
func BuildOptions(cfg *Config, logger *slog.Logger) (opts []pulsegen.Option, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	ports := make(map[string]Port)
	defer func() {
		if err != nil {
			for _, p := range ports {
				_ = p.Close()
			}
		}
	}()

	open := func(name string) (Port, error) {
		if p, ok := ports[name]; ok {
			return p, nil
		}
		p, err := openPort(name, cfg.Output.Baud)
		if err != nil {
			return nil, err
		}
		ports[name] = p
		return p, nil
	}

	opts = []pulsegen.Option{
		pulsegen.WithLogger(logger),
		pulsegen.WithPort(cfg.Port),
		pulsegen.WithTickInterval(cfg.TickInterval.Duration()),
		pulsegen.WithSettingsBackend(settings.NewFileBackend(cfg.SettingsPath)),
		pulsegen.WithSetupRetry(cfg.Setup.MaxAttempts, cfg.Setup.RetryDelay.Duration()),
		pulsegen.WithNetwork(network.NewHost(cfg.Network.Interface, logger)),
		pulsegen.WithClock(hw.NewMonotonicClock()),
	}

	if cfg.TLS.Enabled() {
		opts = append(opts, pulsegen.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}

	switch cfg.Output.Driver {
	case DriverSerial:
		p, err := open(cfg.Output.Port)
		if err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		opts = append(opts, pulsegen.WithOutput(hw.NewSerialOutput(p, logger)))
	default:
		opts = append(opts, pulsegen.WithOutput(hw.NewSimOutput()))
	}

	switch cfg.ModeInput.Driver {
	case DriverSerial:
		p, err := open(cfg.ModeInput.Port)
		if err != nil {
			return nil, fmt.Errorf("mode_input: %w", err)
		}
		opts = append(opts, pulsegen.WithModeInput(hw.NewSerialInput(p, logger)))
	default:
		ap := cfg.ModeInput.AccessPoint == nil || *cfg.ModeInput.AccessPoint
		opts = append(opts, pulsegen.WithModeInput(hw.NewStaticInput(ap)))
	}

	for _, p := range ports {
		opts = append(opts, pulsegen.WithCloser(p))
	}

	if cfg.Discovery.MDNSEnabled() {
		opts = append(opts, pulsegen.WithMDNS())
	}
	if cfg.Discovery.Enabled {
		opts = append(opts, pulsegen.WithDiscovery(cfg.Discovery.Port))
	}

	if len(cfg.Overrides) > 0 {
		pairs := make([]form.Pair, len(cfg.Overrides))
		for i, o := range cfg.Overrides {
			pairs[i] = form.Pair{Key: o.Key, Value: o.Value}
		}
		opts = append(opts, pulsegen.WithOverrides(pairs...))
	}

	return opts, nil
}
