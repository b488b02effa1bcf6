package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/jpalmerr/pulsegen/internal/hw"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePulse struct {
	stops int
	bound bool
}

func (p *fakePulse) Stop() { p.stops++ }

func (p *fakePulse) Bind() bool {
	if p.bound {
		return false
	}
	p.bound = true
	return true
}

type fakeSettings struct{ s settings.Settings }

func (f *fakeSettings) Snapshot() settings.Settings { return f.s }

type fakeNetwork struct {
	linkUp      bool
	linkChecks  int
	joins       int
	disconnects int
	apStarts    int
	apErr       error
	staticErr   error
	applied     *settings.StaticIP
}

func (n *fakeNetwork) BeginJoin(string, string) error { n.joins++; return nil }
func (n *fakeNetwork) LinkUp() bool                   { n.linkChecks++; return n.linkUp }
func (n *fakeNetwork) ApplyStatic(cfg settings.StaticIP) error {
	if n.staticErr != nil {
		return n.staticErr
	}
	n.applied = &cfg
	return nil
}
func (n *fakeNetwork) Disconnect() error { n.disconnects++; return nil }
func (n *fakeNetwork) StartAccessPoint(string, string) error {
	n.apStarts++
	return n.apErr
}
func (n *fakeNetwork) StopAccessPoint() error { return nil }
func (n *fakeNetwork) Addr() netip.Addr       { return netip.MustParseAddr("192.168.4.1") }

type fakeServer struct {
	running  bool
	starts   int
	stops    int
	startErr error
}

func (s *fakeServer) Start() error {
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *fakeServer) Stop() error {
	s.stops++
	s.running = false
	return nil
}

func (s *fakeServer) Running() bool { return s.running }

type fakeDispatcher struct{ calls int }

func (d *fakeDispatcher) Dispatch() { d.calls++ }

type fakeRegistrar struct {
	names []string
	err   error
}

func (r *fakeRegistrar) Register(name string) error {
	r.names = append(r.names, name)
	return r.err
}

type harness struct {
	lc       *Lifecycle
	pulse    *fakePulse
	settings *fakeSettings
	net      *fakeNetwork
	input    *hw.StaticInput
	server   *fakeServer
	disp     *fakeDispatcher
	reg      *fakeRegistrar
	now      time.Time
}

func validStatic() settings.Settings {
	s := settings.Defaults()
	s.StaticIP = "192.168.1.50"
	s.Subnet = "255.255.255.0"
	s.Gateway = "192.168.1.1"
	s.DNS = "192.168.1.1"
	s.MDNSName = "coil"
	return s
}

func newHarness(t *testing.T, s settings.Settings) *harness {
	t.Helper()
	h := &harness{
		pulse:    &fakePulse{},
		settings: &fakeSettings{s: s},
		net:      &fakeNetwork{},
		input:    hw.NewStaticInput(false),
		server:   &fakeServer{},
		disp:     &fakeDispatcher{},
		reg:      &fakeRegistrar{},
		now:      time.Unix(1_700_000_000, 0),
	}
	lc, err := New(Deps{
		Pulse:      h.pulse,
		Settings:   h.settings,
		Network:    h.net,
		Input:      h.input,
		Server:     h.server,
		Dispatcher: h.disp,
		Registrar:  h.reg,
	}, Config{MaxAttempts: 3, RetryDelay: 500 * time.Millisecond},
		WithClock(func() time.Time { return h.now }),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.lc = lc
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func TestNew_StartsInStation(t *testing.T) {
	h := newHarness(t, validStatic())
	if h.lc.State() != SettingUpStation {
		t.Errorf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}
	if h.lc.Mode() != Station {
		t.Errorf("Mode() = %v, want %v", h.lc.Mode(), Station)
	}
}

func TestNew_ControllerBoundTwice(t *testing.T) {
	h := newHarness(t, validStatic())
	_, err := New(Deps{
		Pulse:      h.pulse,
		Settings:   h.settings,
		Network:    h.net,
		Input:      h.input,
		Server:     h.server,
		Dispatcher: h.disp,
	}, Config{})
	if !errors.Is(err, ErrControllerBound) {
		t.Errorf("New() error = %v, want ErrControllerBound", err)
	}
}

func TestTick_StationJoinsAndServes(t *testing.T) {
	h := newHarness(t, validStatic())

	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Fatalf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}
	if h.net.joins != 1 {
		t.Errorf("joins = %d, want 1", h.net.joins)
	}

	// link comes up; the next poll is due only after the retry delay
	h.net.linkUp = true
	h.advance(100 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Fatalf("State() before deadline = %v, want %v", h.lc.State(), SettingUpStation)
	}

	h.advance(400 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Fatalf("State() = %v, want %v", h.lc.State(), Serving)
	}
	if h.net.applied == nil || h.net.applied.IP.String() != "192.168.1.50" {
		t.Errorf("applied static = %+v, want 192.168.1.50", h.net.applied)
	}
	if !h.server.running {
		t.Error("server not running after bring-up")
	}
	if len(h.reg.names) != 1 || h.reg.names[0] != "coil" {
		t.Errorf("registered names = %v, want [coil]", h.reg.names)
	}

	h.lc.Tick()
	if h.disp.calls != 1 {
		t.Errorf("Dispatch() calls = %d, want 1", h.disp.calls)
	}
}

func TestTick_SetupForcesOutputOffEveryTick(t *testing.T) {
	h := newHarness(t, validStatic())

	for i := 0; i < 5; i++ {
		h.lc.Tick()
	}
	if h.pulse.stops != 5 {
		t.Errorf("Stop() calls = %d, want 5", h.pulse.stops)
	}
}

func TestTick_InvalidStaticFailsRound(t *testing.T) {
	h := newHarness(t, settings.Defaults())
	h.net.linkUp = true

	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Fatalf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}
	if h.server.starts != 0 {
		t.Errorf("server starts = %d, want 0", h.server.starts)
	}

	// the failed round restarts on the next tick
	h.lc.Tick()
	if h.net.joins != 2 {
		t.Errorf("joins = %d, want 2", h.net.joins)
	}
}

func TestTick_RetryExhaustionStartsNewRound(t *testing.T) {
	h := newHarness(t, validStatic())

	// first tick begins the round and polls immediately
	h.lc.Tick()
	for i := 0; i < 3; i++ {
		h.advance(500 * time.Millisecond)
		h.lc.Tick()
	}
	if h.net.joins != 1 {
		t.Fatalf("joins = %d, want 1 within the round", h.net.joins)
	}

	// next tick begins a fresh round
	h.lc.Tick()
	if h.net.joins != 2 {
		t.Errorf("joins = %d, want 2 after exhaustion", h.net.joins)
	}
	if h.lc.State() != SettingUpStation {
		t.Errorf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}
}

func TestTick_ModeSelectSwitchesToAccessPoint(t *testing.T) {
	h := newHarness(t, validStatic())
	h.input.Set(true)

	h.lc.Tick()
	if h.lc.Mode() != AccessPoint {
		t.Fatalf("Mode() = %v, want %v", h.lc.Mode(), AccessPoint)
	}
	if h.lc.State() != Serving {
		t.Fatalf("State() = %v, want %v", h.lc.State(), Serving)
	}
	if h.net.disconnects != 1 || h.net.apStarts != 1 {
		t.Errorf("disconnects = %d, apStarts = %d, want 1 and 1", h.net.disconnects, h.net.apStarts)
	}

	// access point mode is sticky even after the input is released
	h.input.Set(false)
	h.lc.Tick()
	if h.lc.Mode() != AccessPoint || h.lc.State() != Serving {
		t.Errorf("after release: Mode() = %v State() = %v, want access_point serving", h.lc.Mode(), h.lc.State())
	}
}

func TestTick_AccessPointRetries(t *testing.T) {
	h := newHarness(t, validStatic())
	h.input.Set(true)
	h.net.apErr = errors.New("radio busy")

	h.lc.Tick()
	if h.net.apStarts != 1 {
		t.Fatalf("apStarts = %d, want 1", h.net.apStarts)
	}

	h.lc.Tick()
	if h.net.apStarts != 1 {
		t.Errorf("apStarts before deadline = %d, want 1", h.net.apStarts)
	}

	h.net.apErr = nil
	h.advance(500 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Errorf("State() = %v, want %v", h.lc.State(), Serving)
	}
}

func TestTick_LinkLossReturnsToSetup(t *testing.T) {
	h := newHarness(t, validStatic())
	h.net.linkUp = true
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Fatalf("State() = %v, want %v", h.lc.State(), Serving)
	}
	stopsBefore := h.pulse.stops

	h.net.linkUp = false
	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Fatalf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}
	if h.pulse.stops != stopsBefore+1 {
		t.Errorf("Stop() calls = %d, want %d", h.pulse.stops, stopsBefore+1)
	}
	if h.server.running {
		t.Error("server still running during setup")
	}
	if h.net.joins != 2 {
		t.Errorf("joins = %d, want 2", h.net.joins)
	}
}

func TestTick_LinkPollRateLimitedWhileServing(t *testing.T) {
	h := newHarness(t, validStatic())
	h.net.linkUp = true
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Fatalf("State() = %v, want %v", h.lc.State(), Serving)
	}
	checksBefore := h.net.linkChecks

	for i := 0; i < 50; i++ {
		h.lc.Tick()
	}
	if got := h.net.linkChecks - checksBefore; got != 1 {
		t.Errorf("LinkUp() calls over 50 ticks = %d, want 1", got)
	}

	h.net.linkUp = false
	h.advance(100 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Errorf("State() before the next link check = %v, want %v", h.lc.State(), Serving)
	}

	h.advance(400 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Errorf("State() after the next link check = %v, want %v", h.lc.State(), SettingUpStation)
	}
	if got := h.net.linkChecks - checksBefore; got < 2 {
		t.Errorf("LinkUp() calls = %d, want at least 2", got)
	}
}

func TestTick_LinkLossIgnoredInAccessPoint(t *testing.T) {
	h := newHarness(t, validStatic())
	h.input.Set(true)
	h.lc.Tick()

	h.net.linkUp = false
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Errorf("State() = %v, want %v", h.lc.State(), Serving)
	}
}

func TestTick_RegistrationFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t, validStatic())
	h.reg.err = errors.New("port in use")
	h.net.linkUp = true

	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Errorf("State() = %v, want %v", h.lc.State(), Serving)
	}
}

func TestTick_ServerStartFailureRetries(t *testing.T) {
	h := newHarness(t, validStatic())
	h.server.startErr = errors.New("address in use")
	h.net.linkUp = true

	h.lc.Tick()
	if h.lc.State() != SettingUpStation {
		t.Fatalf("State() = %v, want %v", h.lc.State(), SettingUpStation)
	}

	h.server.startErr = nil
	h.advance(500 * time.Millisecond)
	h.lc.Tick()
	if h.lc.State() != Serving {
		t.Errorf("State() = %v, want %v", h.lc.State(), Serving)
	}
}
