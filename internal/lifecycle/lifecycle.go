package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/pulsegen/internal/network"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

// State is the server state.
type State int32

const (
	SettingUpStation State = iota
	SettingUpAccessPoint
	Serving
)

func (s State) String() string {
	switch s {
	case SettingUpStation:
		return "setting_up_station"
	case SettingUpAccessPoint:
		return "setting_up_access_point"
	case Serving:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mode is the network mode.
type Mode int32

const (
	Station Mode = iota
	AccessPoint
)

func (m Mode) String() string {
	switch m {
	case Station:
		return "station"
	case AccessPoint:
		return "access_point"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ErrControllerBound is returned by [New] when the pulse controller is
// already owned by another lifecycle.
var ErrControllerBound = errors.New("pulse controller already bound to a lifecycle")

const (
	DefaultMaxAttempts = 32
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Pulse is the pulse output as seen by the lifecycle.
type Pulse interface {
	Stop()
	Bind() bool
}

// SettingsSource provides the persisted settings.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// ModeInput is the physical mode-select input.
type ModeInput interface {
	AccessPointRequested() bool
}

// RequestServer is the request-serving layer.
type RequestServer interface {
	Start() error
	Stop() error
	Running() bool
}

// Dispatcher executes queued requests.
type Dispatcher interface {
	Dispatch()
}

// Registrar announces the device name on the network.
type Registrar interface {
	Register(name string) error
}

// Deps are the collaborators of a Lifecycle. Registrar may be nil.
type Deps struct {
	Pulse      Pulse
	Settings   SettingsSource
	Network    network.Network
	Input      ModeInput
	Server     RequestServer
	Dispatcher Dispatcher
	Registrar  Registrar
}

// Config tunes the setup retry policy.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// round tracks one setup round.
type round struct {
	begun    bool
	attempts int
	next     time.Time
}

// Lifecycle is the network and server state machine.
//
// Tick must be called from a single goroutine. Mode and State are safe to
// read from any goroutine.
type Lifecycle struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	state atomic.Int32
	mode  atomic.Int32
	round round

	// nextLinkCheck gates the station link poll while serving.
	nextLinkCheck time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces the wall clock used for retry deadlines.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a lifecycle in Station mode, setting up the station link.
//
// The pulse controller in deps is bound to the new lifecycle; binding a
// controller twice returns [ErrControllerBound].
func New(deps Deps, cfg Config, opts ...Option) (*Lifecycle, error) {
	if deps.Pulse == nil || deps.Settings == nil || deps.Network == nil ||
		deps.Input == nil || deps.Server == nil || deps.Dispatcher == nil {
		return nil, errors.New("lifecycle: missing collaborator")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	l := &Lifecycle{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if !deps.Pulse.Bind() {
		return nil, ErrControllerBound
	}

	l.state.Store(int32(SettingUpStation))
	l.mode.Store(int32(Station))
	return l, nil
}

// State returns the current server state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Mode returns the current network mode.
func (l *Lifecycle) Mode() Mode {
	return Mode(l.mode.Load())
}

func (l *Lifecycle) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.round = round{}
		l.nextLinkCheck = time.Time{}
		l.logger.Info("server state changed", "from", prev.String(), "to", s.String(), "mode", l.Mode().String())
	}
}

// Tick advances the state machine by one step.
func (l *Lifecycle) Tick() {
	l.sampleMode()

	switch l.State() {
	case SettingUpStation:
		l.enterSetup()
		l.stepStation()
	case SettingUpAccessPoint:
		l.enterSetup()
		l.stepAccessPoint()
	case Serving:
		l.deps.Dispatcher.Dispatch()
	}
}

// sampleMode reads the mode-select input. It only has an effect in Station
// mode: access point mode lasts until restart. While serving, the station
// link is polled at most once per retry delay.
func (l *Lifecycle) sampleMode() {
	if l.Mode() != Station {
		return
	}

	if l.deps.Input.AccessPointRequested() {
		l.mode.Store(int32(AccessPoint))
		l.logger.Info("mode select asserted, switching to access point")
		l.setState(SettingUpAccessPoint)
		return
	}
	if l.State() != Serving {
		return
	}
	now := l.now()
	if now.Before(l.nextLinkCheck) {
		return
	}
	l.nextLinkCheck = now.Add(l.cfg.RetryDelay)
	if !l.deps.Network.LinkUp() {
		l.logger.Warn("network link lost")
		l.setState(SettingUpStation)
	}
}

// enterSetup forces the output off and keeps the request server down.
func (l *Lifecycle) enterSetup() {
	l.deps.Pulse.Stop()

	if l.deps.Server.Running() {
		if err := l.deps.Server.Stop(); err != nil {
			l.logger.Error("failed to stop request server", "error", err)
		}
	}
}

func (l *Lifecycle) stepStation() {
	now := l.now()
	s := l.deps.Settings.Snapshot()

	if !l.round.begun {
		l.round = round{begun: true, next: now}
		l.logger.Info("connecting to network", "ssid", s.NetSSID)

		if err := l.deps.Network.StopAccessPoint(); err != nil {
			l.logger.Warn("failed to disable access point", "error", err)
		}
		if err := l.deps.Network.BeginJoin(s.NetSSID, s.NetPass); err != nil {
			l.failRound("connection failed", err)
			return
		}
	}

	if now.Before(l.round.next) {
		return
	}

	if !l.deps.Network.LinkUp() {
		l.retry(now, "connection failed", nil)
		return
	}

	static, err := s.StaticIPConfig()
	if err != nil {
		l.failRound("network configuration failed", err)
		return
	}
	if err := l.deps.Network.ApplyStatic(static); err != nil {
		l.failRound("network configuration failed", err)
		return
	}

	l.logger.Info("network connected",
		"ip", static.IP, "subnet", static.Subnet, "gateway", static.Gateway, "dns", static.DNS)
	l.bringUp(s)
}

func (l *Lifecycle) stepAccessPoint() {
	now := l.now()
	s := l.deps.Settings.Snapshot()

	if !l.round.begun {
		l.round = round{begun: true, next: now}
		l.logger.Info("configuring access point", "ssid", s.APSSID)

		if err := l.deps.Network.Disconnect(); err != nil {
			l.logger.Warn("failed to leave station network", "error", err)
		}
	}

	if now.Before(l.round.next) {
		return
	}

	if err := l.deps.Network.StartAccessPoint(s.APSSID, s.APPass); err != nil {
		l.retry(now, "access point configuration failed", err)
		return
	}

	l.bringUp(s)
}

// retry counts a failed attempt and schedules the next one, or fails the
// round once the attempts are exhausted.
func (l *Lifecycle) retry(now time.Time, msg string, err error) {
	l.round.attempts++
	if l.round.attempts > l.cfg.MaxAttempts {
		l.failRound(msg, err)
		return
	}
	l.round.next = now.Add(l.cfg.RetryDelay)
	l.logger.Debug("setup attempt failed", "attempt", l.round.attempts, "error", err)
}

func (l *Lifecycle) failRound(msg string, err error) {
	attrs := []any{"state", l.State().String(), "attempts", l.round.attempts}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	l.logger.Error(msg, attrs...)
	l.round = round{}
}

// bringUp announces the device and starts the request server.
func (l *Lifecycle) bringUp(s settings.Settings) {
	if l.deps.Registrar != nil {
		if err := l.deps.Registrar.Register(s.MDNSName); err != nil {
			l.logger.Warn("name registration failed", "name", s.MDNSName, "error", err)
		} else {
			l.logger.Info("name registration started", "name", s.MDNSName)
		}
	}

	if err := l.deps.Server.Start(); err != nil {
		l.retry(l.now(), "request server start failed", err)
		return
	}

	l.logger.Info("server started", "mode", l.Mode().String(), "addr", l.deps.Network.Addr())
	l.setState(Serving)
}
