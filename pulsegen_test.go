package pulsegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/pulsegen/internal/hw"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/loop"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upNetwork is a network whose links always come up.
type upNetwork struct{}

func (upNetwork) BeginJoin(string, string) error        { return nil }
func (upNetwork) LinkUp() bool                          { return true }
func (upNetwork) ApplyStatic(settings.StaticIP) error   { return nil }
func (upNetwork) Disconnect() error                     { return nil }
func (upNetwork) StartAccessPoint(string, string) error { return nil }
func (upNetwork) StopAccessPoint() error                { return nil }
func (upNetwork) Addr() netip.Addr                      { return netip.MustParseAddr("127.0.0.1") }

// panicOutput panics when asked for a non-zero level.
type panicOutput struct {
	driveLow atomic.Int32
}

func (p *panicOutput) SetLevel(level uint32) error {
	if level > 0 {
		panic("level register fault")
	}
	return nil
}

func (p *panicOutput) SetFrequency(uint32) error { return nil }

func (p *panicOutput) Drive(high bool) error {
	if !high {
		p.driveLow.Add(1)
	}
	return nil
}

// closeCounter records Close calls.
type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func waitServing(t *testing.T, d *Device) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.State() != lifecycle.Serving {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want %v", d.State(), lifecycle.Serving)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_ServesInAccessPointMode(t *testing.T) {
	port := freePort(t)
	out := hw.NewSimOutput()
	closer := &closeCounter{}

	d, err := New(
		WithLogger(testLogger()),
		WithPort(port),
		WithTickInterval(time.Millisecond),
		WithOutput(out),
		WithModeInput(hw.NewStaticInput(true)),
		WithNetwork(upNetwork{}),
		WithCloser(closer),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitServing(t, d)
	if d.Mode() != lifecycle.AccessPoint {
		t.Errorf("Mode() = %v, want %v", d.Mode(), lifecycle.AccessPoint)
	}

	form := url.Values{"200": {"200"}, "201": {"100"}, "203": {"1"}}
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/pwmstart", port),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST /pwmstart error = %v", err)
	}
	var body struct {
		Msg string `json:"msg"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Msg != "Interrupter started in PWM mode" {
		t.Errorf("msg = %q, want %q", body.Msg, "Interrupter started in PWM mode")
	}
	if !d.Status().Active {
		t.Error("Status().Active = false after start")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	if out.High() || out.Level() != 0 {
		t.Errorf("output high=%v level=%d after shutdown, want off", out.High(), out.Level())
	}
	if closer.closed != 1 {
		t.Errorf("closer closed %d times, want 1", closer.closed)
	}
}

func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	d, err := New(WithLogger(testLogger()), WithNetwork(upNetwork{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return for an already cancelled context")
	}
}

func TestStart_HaltForcesOutputOff(t *testing.T) {
	port := freePort(t)
	out := &panicOutput{}

	d, err := New(
		WithLogger(testLogger()),
		WithPort(port),
		WithTickInterval(time.Millisecond),
		WithOutput(out),
		WithNetwork(upNetwork{}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()

	waitServing(t, d)
	lowBefore := out.driveLow.Load()

	form := url.Values{"200": {"200"}, "201": {"100"}}
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/pwmstart", port),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err == nil {
		resp.Body.Close()
	}

	select {
	case err := <-done:
		if !errors.Is(err, loop.ErrHalted) {
			t.Errorf("Start() error = %v, want ErrHalted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after a task panic")
	}

	if out.driveLow.Load() <= lowBefore {
		t.Error("output was not driven low after the halt")
	}
}

func TestNew_LoadFailureKeepsDefaults(t *testing.T) {
	backend := &settings.MemoryBackend{}
	if err := backend.Write([]byte("{not json")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	d, err := New(WithLogger(testLogger()), WithSettingsBackend(backend))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got, want := d.Settings(), settings.Defaults(); got != want {
		t.Errorf("Settings() = %+v, want defaults %+v", got, want)
	}
}

func TestNew_LoadsPersistedSettings(t *testing.T) {
	backend := &settings.MemoryBackend{}
	seed := settings.NewStore(backend, testLogger())
	if err := seed.Apply("106", "bench-gen"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := seed.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	d, err := New(WithLogger(testLogger()), WithSettingsBackend(backend))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if d.Settings().MDNSName != "bench-gen" {
		t.Errorf("Settings().MDNSName = %q, want %q", d.Settings().MDNSName, "bench-gen")
	}
}

func TestNew_DiscoveryTask(t *testing.T) {
	d, err := New(WithLogger(testLogger()), WithDiscovery(freeUDPPort(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.discovery == nil {
		t.Fatal("discovery responder not created")
	}
	if len(d.runner.Tasks()) != 3 {
		t.Errorf("len(Tasks()) = %d, want 3", len(d.runner.Tasks()))
	}
}

func TestNew_MDNSRegistrar(t *testing.T) {
	d, err := New(WithLogger(testLogger()), WithMDNS())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.mdns == nil {
		t.Fatal("mdns registrar not created")
	}
	if d.discovery != nil {
		t.Error("discovery responder created without WithDiscovery")
	}
	if len(d.runner.Tasks()) != 2 {
		t.Errorf("len(Tasks()) = %d, want 2", len(d.runner.Tasks()))
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to reserve a udp port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port
}
