package discovery

import (
	"errors"
	"net/netip"
	"testing"
)

type fakeServer struct{ shutdowns int }

func (s *fakeServer) Shutdown() { s.shutdowns++ }

type registration struct {
	instance, service, domain, host string
	port                            int
	ips                             []string
	proxy                           bool
}

// stubZeroconf replaces the zeroconf entry points for the duration of the
// test and records every registration.
func stubZeroconf(t *testing.T, err error) (*[]registration, *[]*fakeServer) {
	t.Helper()
	var regs []registration
	var servers []*fakeServer

	origProxy, origHost := registerProxy, registerHost
	t.Cleanup(func() { registerProxy, registerHost = origProxy, origHost })

	registerProxy = func(instance, service, domain string, port int, host string, ips, _ []string) (mdnsServer, error) {
		regs = append(regs, registration{instance, service, domain, host, port, ips, true})
		if err != nil {
			return nil, err
		}
		s := &fakeServer{}
		servers = append(servers, s)
		return s, nil
	}
	registerHost = func(instance, service, domain string, port int, _ []string) (mdnsServer, error) {
		regs = append(regs, registration{instance: instance, service: service, domain: domain, port: port})
		if err != nil {
			return nil, err
		}
		s := &fakeServer{}
		servers = append(servers, s)
		return s, nil
	}
	return &regs, &servers
}

func TestMDNS_RegisterPublishesHostName(t *testing.T) {
	regs, _ := stubZeroconf(t, nil)
	addr := netip.MustParseAddr("192.168.1.50")
	m := NewMDNS(ServiceHTTPS, 443, func() netip.Addr { return addr }, testLogger())

	if err := m.Register("coil"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if len(*regs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(*regs))
	}
	got := (*regs)[0]
	if !got.proxy || got.instance != "coil" || got.host != "coil" || got.service != ServiceHTTPS ||
		got.domain != "local." || got.port != 443 {
		t.Errorf("registration = %+v", got)
	}
	if len(got.ips) != 1 || got.ips[0] != "192.168.1.50" {
		t.Errorf("ips = %v, want [192.168.1.50]", got.ips)
	}
	if m.Name() != "coil" {
		t.Errorf("Name() = %q, want %q", m.Name(), "coil")
	}
}

func TestMDNS_RegisterWithoutAddressUsesHost(t *testing.T) {
	regs, _ := stubZeroconf(t, nil)
	m := NewMDNS("", 80, func() netip.Addr { return netip.IPv4Unspecified() }, testLogger())

	if err := m.Register("coil"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(*regs) != 1 || (*regs)[0].proxy || (*regs)[0].service != ServiceHTTP {
		t.Errorf("registrations = %+v, want one host registration of %s", *regs, ServiceHTTP)
	}
}

func TestMDNS_ReRegister(t *testing.T) {
	regs, servers := stubZeroconf(t, nil)
	addr := netip.MustParseAddr("10.0.0.2")
	m := NewMDNS(ServiceHTTP, 80, func() netip.Addr { return addr }, testLogger())

	if err := m.Register("coil"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("coil"); err != nil {
		t.Fatal(err)
	}
	if len(*regs) != 1 {
		t.Errorf("registrations after repeat = %d, want 1", len(*regs))
	}

	if err := m.Register("bench"); err != nil {
		t.Fatal(err)
	}
	if len(*regs) != 2 {
		t.Fatalf("registrations after rename = %d, want 2", len(*regs))
	}
	if (*servers)[0].shutdowns != 1 {
		t.Errorf("old registration shutdowns = %d, want 1", (*servers)[0].shutdowns)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if (*servers)[1].shutdowns != 1 {
		t.Errorf("shutdowns after Close = %d, want 1", (*servers)[1].shutdowns)
	}
	if m.Name() != "" {
		t.Errorf("Name() after Close = %q, want empty", m.Name())
	}
}

func TestMDNS_RegisterErrors(t *testing.T) {
	stubZeroconf(t, errors.New("no multicast interface"))
	m := NewMDNS(ServiceHTTP, 80, nil, testLogger())

	if err := m.Register(""); err == nil {
		t.Error("Register(\"\") error = nil, want error")
	}
	if err := m.Register("coil"); err == nil {
		t.Error("Register() error = nil, want the zeroconf failure")
	}
	if m.Name() != "" {
		t.Errorf("Name() = %q, want empty after a failed registration", m.Name())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

type recordingRegistrar struct {
	names []string
	err   error
}

func (r *recordingRegistrar) Register(name string) error {
	r.names = append(r.names, name)
	return r.err
}

func TestGroup_RegistersEveryMember(t *testing.T) {
	failing := &recordingRegistrar{err: errors.New("boom")}
	ok := &recordingRegistrar{}

	err := Group{failing, ok}.Register("coil")

	if !errors.Is(err, failing.err) {
		t.Errorf("Register() error = %v, want %v", err, failing.err)
	}
	if len(ok.names) != 1 || ok.names[0] != "coil" {
		t.Errorf("second member names = %v, want [coil]", ok.names)
	}
	if err := (Group{ok}).Register("coil"); err != nil {
		t.Errorf("Register() error = %v, want nil", err)
	}
}
