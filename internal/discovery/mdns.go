package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceHTTP and ServiceHTTPS are the DNS-SD service types advertised.
	ServiceHTTP  = "_http._tcp"
	ServiceHTTPS = "_https._tcp"

	mdnsDomain = "local."
)

// mdnsServer is a running mDNS registration.
type mdnsServer interface {
	Shutdown()
}

// registerProxy publishes instance with an explicit host name and address.
var registerProxy = func(instance, service, domain string, port int, host string, ips, text []string) (mdnsServer, error) {
	s, err := zeroconf.RegisterProxy(instance, service, domain, port, host, ips, text, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// registerHost publishes instance under the operating system host name.
var registerHost = func(instance, service, domain string, port int, text []string) (mdnsServer, error) {
	s, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MDNS registers the device name over multicast DNS.
//
// When the address source reports a usable address the name is also
// published as the host name, so <name>.local resolves to the device.
type MDNS struct {
	service string
	port    int
	addr    func() netip.Addr
	logger  *slog.Logger

	mu     sync.Mutex
	server mdnsServer
	name   string
	host   netip.Addr
}

// NewMDNS creates a registrar advertising service on port. addr may be nil.
func NewMDNS(service string, port int, addr func() netip.Addr, logger *slog.Logger) *MDNS {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = ServiceHTTP
	}
	return &MDNS{
		service: service,
		port:    port,
		addr:    addr,
		logger:  logger,
	}
}

// Register publishes name, replacing any earlier registration of a
// different name or address. It implements lifecycle.Registrar.
func (m *MDNS) Register(name string) error {
	if name == "" {
		return errors.New("mdns: empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var host netip.Addr
	if m.addr != nil {
		host = m.addr()
	}
	if m.server != nil && m.name == name && m.host == host {
		return nil
	}
	m.shutdown()

	text := []string{"path=/"}
	var (
		server mdnsServer
		err    error
	)
	if host.IsValid() && !host.IsUnspecified() {
		server, err = registerProxy(name, m.service, mdnsDomain, m.port, name, []string{host.String()}, text)
	} else {
		server, err = registerHost(name, m.service, mdnsDomain, m.port, text)
	}
	if err != nil {
		return fmt.Errorf("mdns: failed to register %q: %w", name, err)
	}

	m.server = server
	m.name = name
	m.host = host
	m.logger.Info("mdns name registered", "name", name, "service", m.service, "port", m.port, "addr", host.String())
	return nil
}

// Name returns the registered name, or "" when nothing is registered.
func (m *MDNS) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Close withdraws the registration.
func (m *MDNS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown()
	return nil
}

func (m *MDNS) shutdown() {
	if m.server == nil {
		return
	}
	m.server.Shutdown()
	m.server = nil
	m.name = ""
	m.host = netip.Addr{}
}

// Registrar announces a name on the network.
type Registrar interface {
	Register(name string) error
}

// Group registers a name with every member.
type Group []Registrar

// Register calls Register on every member and joins their errors.
func (g Group) Register(name string) error {
	var errs []error
	for _, r := range g {
		if err := r.Register(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
