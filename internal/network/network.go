// Package network provides the network stack used by the lifecycle to join
// a station network or host an access point.
package network

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/jpalmerr/pulsegen/internal/settings"
)

// Network is the network stack collaborator.
//
// Every method must return promptly. Joining is asynchronous: BeginJoin
// starts it and LinkUp reports when it has completed.
type Network interface {
	// BeginJoin starts joining the station network ssid.
	BeginJoin(ssid, pass string) error
	// LinkUp reports whether the station link is connected.
	LinkUp() bool
	// ApplyStatic configures static addressing on the station link.
	ApplyStatic(cfg settings.StaticIP) error
	// Disconnect leaves the station network.
	Disconnect() error
	// StartAccessPoint hosts an access point with the given identity.
	StartAccessPoint(ssid, pass string) error
	// StopAccessPoint stops hosting the access point.
	StopAccessPoint() error
	// Addr returns the local address reachable by clients, if any.
	Addr() netip.Addr
}

// ErrNoInterface is returned when the configured interface does not exist.
var ErrNoInterface = errors.New("network interface not found")

// Link describes one host network interface.
type Link struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []netip.Prefix
}

// HostLinks lists the host network interfaces.
func HostLinks() ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	links := make([]Link, 0, len(ifaces))
	for _, ifc := range ifaces {
		link := Link{
			Name:     ifc.Name,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			return nil, fmt.Errorf("failed to read addresses of %s: %w", ifc.Name, err)
		}
		for _, a := range addrs {
			if p, err := netip.ParsePrefix(a.String()); err == nil {
				link.Addrs = append(link.Addrs, p)
			}
		}
		links = append(links, link)
	}
	return links, nil
}

// Host is a [Network] backed by the host operating system.
//
// The host manages association and addressing itself, so Host observes
// rather than configures: the station link is up when a non-loopback
// interface (or the named one) is up with an IPv4 address. Static
// configuration and access point identity are recorded and logged.
type Host struct {
	iface  string
	links  func() ([]Link, error)
	logger *slog.Logger

	mu       sync.Mutex
	ssid     string
	apSSID   string
	apActive bool
	static   *settings.StaticIP
}

// NewHost creates a host network watching iface, or every interface when
// iface is empty.
func NewHost(iface string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{iface: iface, links: HostLinks, logger: logger}
}

// BeginJoin implements [Network].
func (h *Host) BeginJoin(ssid, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.iface != "" {
		if _, err := h.find(); err != nil {
			return err
		}
	}
	h.ssid = ssid
	h.logger.Info("joining station network", "ssid", ssid, "interface", h.ifaceName())
	return nil
}

// LinkUp implements [Network].
func (h *Host) LinkUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, err := h.find()
	return err == nil && addr.IsValid()
}

// ApplyStatic implements [Network].
func (h *Host) ApplyStatic(cfg settings.StaticIP) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.static = &cfg
	h.logger.Info("static addressing requested",
		"ip", cfg.IP, "subnet", cfg.Subnet, "gateway", cfg.Gateway, "dns", cfg.DNS)
	return nil
}

// Disconnect implements [Network].
func (h *Host) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ssid = ""
	h.static = nil
	return nil
}

// StartAccessPoint implements [Network]. The host serves on its existing
// interfaces, so this succeeds whenever one of them is usable.
func (h *Host) StartAccessPoint(ssid, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.find(); err != nil {
		return err
	}
	h.apSSID = ssid
	h.apActive = true
	h.logger.Info("access point mode", "ssid", ssid, "interface", h.ifaceName())
	return nil
}

// StopAccessPoint implements [Network].
func (h *Host) StopAccessPoint() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apActive = false
	return nil
}

// Addr implements [Network].
func (h *Host) Addr() netip.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, _ := h.find()
	return addr
}

func (h *Host) ifaceName() string {
	if h.iface == "" {
		return "any"
	}
	return h.iface
}

// find returns the first IPv4 address of an up, non-loopback link matching
// the configured interface.
func (h *Host) find() (netip.Addr, error) {
	links, err := h.links()
	if err != nil {
		return netip.Addr{}, err
	}

	seen := false
	for _, l := range links {
		if h.iface != "" && !strings.EqualFold(l.Name, h.iface) {
			continue
		}
		seen = true
		if !l.Up || l.Loopback {
			continue
		}
		for _, p := range l.Addrs {
			if p.Addr().Is4() {
				return p.Addr(), nil
			}
		}
	}
	if h.iface != "" && !seen {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoInterface, h.iface)
	}
	return netip.Addr{}, nil
}
