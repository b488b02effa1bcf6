// Package discovery announces the device on the local network.
//
// [MDNS] registers the configured name as a DNS-SD service over multicast
// DNS so that <name>.local resolves. [Responder] additionally answers UDP
// discovery probes for clients without an mDNS resolver. A probe is the
// datagram "pulsegendiscovery1" and the reply is a JSON object naming the
// device and its HTTP port:
//
//	{"name":"coil","port":443}
//
// Neither blocks the control loop: the responder reads probes on its own
// goroutine and [Responder.Tick] answers the queued ones.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// DefaultPort is the UDP port probes are sent to.
const DefaultPort = 32228

// Probe is the discovery request payload.
const Probe = "pulsegendiscovery1"

// maxPerTick bounds the probes answered in one tick.
const maxPerTick = 8

// maxPending bounds the probes queued between ticks; extra probes are dropped.
const maxPending = 32

// Reply is the discovery response payload.
type Reply struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

// Responder is a cooperative UDP discovery responder.
type Responder struct {
	addr     string
	httpPort int
	logger   *slog.Logger

	pending chan *net.UDPAddr

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
	name string
}

// NewResponder creates a responder that will listen on addr (for example
// ":32228") and advertise httpPort.
func NewResponder(addr string, httpPort int, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		addr:     addr,
		httpPort: httpPort,
		logger:   logger,
		pending:  make(chan *net.UDPAddr, maxPending),
	}
}

// Register binds the responder socket, if not yet bound, and advertises
// name. It implements lifecycle.Registrar.
func (r *Responder) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.name = name
	if r.conn != nil {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", r.addr)
	if err != nil {
		return fmt.Errorf("could not resolve discovery address %q: %w", r.addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("could not listen for discovery on %q: %w", r.addr, err)
	}
	r.conn = conn
	r.done = make(chan struct{})
	go r.read(conn, r.done)

	r.logger.Info("discovery responder started", "addr", conn.LocalAddr().String(), "name", name)
	return nil
}

// read queues the sender of every probe until conn is closed.
func (r *Responder) read(conn *net.UDPConn, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 1024)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("discovery: error reading from UDP", "error", err)
			}
			return
		}
		if string(buf[:n]) != Probe {
			continue
		}
		select {
		case r.pending <- remote:
		default:
			r.logger.Debug("discovery: probe dropped", "remote", remote.String())
		}
	}
}

// LocalAddr returns the bound address, or nil before Register.
func (r *Responder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Tick answers the probes queued since the previous tick.
func (r *Responder) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return
	}

	for i := 0; i < maxPerTick; i++ {
		var remote *net.UDPAddr
		select {
		case remote = <-r.pending:
		default:
			return
		}

		r.logger.Debug("discovery request", "remote", remote.String())
		reply, err := json.Marshal(Reply{Name: r.name, Port: r.httpPort})
		if err != nil {
			r.logger.Error("discovery: failed to encode reply", "error", err)
			return
		}
		if _, err := r.conn.WriteToUDP(reply, remote); err != nil {
			r.logger.Error("discovery: failed to send reply", "remote", remote.String(), "error", err)
		}
	}
}

// Close releases the socket and waits for the reader to exit.
func (r *Responder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	<-r.done
	r.conn = nil
	r.done = nil
	return err
}
