package pulsegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/pulsegen/dashboard"
	"github.com/jpalmerr/pulsegen/internal/auth"
	"github.com/jpalmerr/pulsegen/internal/discovery"
	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/hw"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/loop"
	"github.com/jpalmerr/pulsegen/internal/network"
	"github.com/jpalmerr/pulsegen/internal/pulse"
	"github.com/jpalmerr/pulsegen/internal/server"
	"github.com/jpalmerr/pulsegen/internal/settings"
	"github.com/jpalmerr/pulsegen/internal/store"
)

const defaultPort = 80

// Device is the composition root: it owns the settings, the pulse
// controller, the lifecycle, the request server and the control loop.
//
// The typical lifecycle is:
//
//	dev, err := pulsegen.New(pulsegen.WithOutput(out), pulsegen.WithPort(8080))
//	if err != nil {
//	    slog.Error("failed to create device", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	dev.Start(ctx) // blocks until context cancelled or the loop halts
type Device struct {
	port    int
	closers []io.Closer
	logger  *slog.Logger

	settings  *settings.Store
	pulse     *pulse.Controller
	status    *store.MemoryStore
	queue     *server.Queue
	server    *server.Server
	lifecycle *lifecycle.Lifecycle
	discovery *discovery.Responder
	mdns      *discovery.MDNS
	runner    *loop.Runner
}

// New creates a device with the given options.
//
// The persisted settings are loaded first; a load failure keeps the defaults
// and is logged. Boot overrides are then applied in order, and a rejected
// override is returned as an error. Resources registered with [WithCloser]
// are closed when New fails.
func New(opts ...Option) (_ *Device, err error) {
	cfg := &deviceConfig{
		port:         defaultPort,
		tickInterval: loop.DefaultInterval,
		setup: lifecycle.Config{
			MaxAttempts: lifecycle.DefaultMaxAttempts,
			RetryDelay:  lifecycle.DefaultRetryDelay,
		},
	}

	defer func() {
		if err != nil {
			closeAll(cfg.closers, cfg.logger)
		}
	}()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.output == nil {
		cfg.output = hw.NewSimOutput()
	}
	if cfg.modeInput == nil {
		cfg.modeInput = hw.NewStaticInput(true)
	}
	if cfg.network == nil {
		cfg.network = network.NewHost("", logger)
	}
	if cfg.clock == nil {
		cfg.clock = hw.NewMonotonicClock()
	}
	if cfg.backend == nil {
		cfg.backend = &settings.MemoryBackend{}
	}

	d := &Device{
		port:    cfg.port,
		logger:  logger,
		status:  store.NewMemoryStore(),
		queue:   server.NewQueue(server.DefaultQueueSize),
		closers: cfg.closers,
	}

	d.settings = settings.NewStore(cfg.backend, logger)
	if err := d.settings.Load(); err != nil {
		if errors.Is(err, settings.ErrNoBlob) || errors.Is(err, os.ErrNotExist) {
			logger.Info("no stored settings, using defaults")
		} else {
			logger.Warn("failed to load settings, using defaults", "error", err)
		}
	}

	d.pulse = pulse.NewController(cfg.output, cfg.clock, d.settings,
		pulse.WithStatusSink(d.status),
		pulse.WithLogger(logger),
	)

	if len(cfg.overrides) > 0 {
		if err := form.ApplyBatch(form.Chain{d.settings, d.pulse}, cfg.overrides); err != nil {
			return nil, fmt.Errorf("boot override rejected: %w", err)
		}
		logger.Info("boot overrides applied", "count", len(cfg.overrides))
	}

	srv, err := server.New(server.Config{
		Port:        cfg.port,
		TLSCertFile: cfg.tlsCertFile,
		TLSKeyFile:  cfg.tlsKeyFile,
		Settings:    d.settings,
		Pulse:       d.pulse,
		Modes:       d,
		Network:     cfg.network,
		Status:      d.status,
		Auth:        auth.NewDigest(auth.DefaultRealm),
		Queue:       d.queue,
		Assets:      dashboard.Assets,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request server: %w", err)
	}
	d.server = srv

	deps := lifecycle.Deps{
		Pulse:      d.pulse,
		Settings:   d.settings,
		Network:    cfg.network,
		Input:      cfg.modeInput,
		Server:     d.server,
		Dispatcher: d.queue,
	}
	var registrars discovery.Group
	if cfg.mdns {
		service := discovery.ServiceHTTP
		if cfg.tlsCertFile != "" {
			service = discovery.ServiceHTTPS
		}
		d.mdns = discovery.NewMDNS(service, cfg.port, cfg.network.Addr, logger)
		registrars = append(registrars, d.mdns)
	}
	if cfg.discovery {
		d.discovery = discovery.NewResponder(fmt.Sprintf(":%d", cfg.discoveryPort), cfg.port, logger)
		registrars = append(registrars, d.discovery)
	}
	if len(registrars) > 0 {
		deps.Registrar = registrars
	}

	lc, err := lifecycle.New(deps, cfg.setup, lifecycle.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle: %w", err)
	}
	d.lifecycle = lc

	// order matters: the auto-stop check runs before requests are dispatched
	tasks := []loop.Task{
		{Name: "pulse", Run: d.pulse.Tick},
		{Name: "lifecycle", Run: d.lifecycle.Tick},
	}
	if d.discovery != nil {
		tasks = append(tasks, loop.Task{Name: "discovery", Run: d.discovery.Tick})
	}
	d.runner = loop.NewRunner(tasks, cfg.tickInterval, d.forceOff, logger)

	return d, nil
}

// forceOff drives the output off after the loop halts.
func (d *Device) forceOff() {
	d.pulse.Stop()
}

// Start runs the control loop until ctx is cancelled or the loop halts.
//
// On return the output is off, the request server is stopped and every
// registered resource is closed. Returns nil on cancellation and an error
// wrapping [loop.ErrHalted] when a task panicked.
func (d *Device) Start(ctx context.Context) error {
	d.logger.Info("pulsegen starting", "port", d.port, "tasks", d.runner.Tasks())

	if ctx.Err() != nil {
		d.shutdown()
		return nil
	}

	d.runner.Start(ctx)

	select {
	case <-ctx.Done():
	case <-d.runner.Done():
	}

	d.shutdown()

	if err := d.runner.Err(); err != nil {
		return fmt.Errorf("device halted: %w", err)
	}
	d.logger.Info("pulsegen stopped")
	return nil
}

func (d *Device) shutdown() {
	d.runner.Stop()
	d.pulse.Stop()

	if err := d.server.Stop(); err != nil {
		d.logger.Warn("failed to stop request server", "error", err)
	}
	if d.mdns != nil {
		if err := d.mdns.Close(); err != nil {
			d.logger.Warn("failed to withdraw mdns name", "error", err)
		}
	}
	if d.discovery != nil {
		if err := d.discovery.Close(); err != nil {
			d.logger.Warn("failed to close discovery responder", "error", err)
		}
	}
	closeAll(d.closers, d.logger)
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

// Mode returns the current network mode.
func (d *Device) Mode() lifecycle.Mode {
	return d.lifecycle.Mode()
}

// State returns the current server state.
func (d *Device) State() lifecycle.State {
	return d.lifecycle.State()
}

// Settings returns a copy of the current settings.
func (d *Device) Settings() settings.Settings {
	return d.settings.Snapshot()
}

// Params returns the staged pulse parameters.
func (d *Device) Params() pulse.Params {
	return d.pulse.Params()
}

// Status returns the latest output status.
func (d *Device) Status() store.OutputStatus {
	return d.status.Latest()
}

// Handler returns the request router without starting a listener.
func (d *Device) Handler() http.Handler {
	return d.server.Handler()
}

// Port returns the configured request server port.
func (d *Device) Port() int {
	return d.port
}
