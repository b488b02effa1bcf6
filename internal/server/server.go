package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/pulsegen/internal/auth"
	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/pulse"
	"github.com/jpalmerr/pulsegen/internal/settings"
	"github.com/jpalmerr/pulsegen/internal/store"
)

// wsWriteTimeout bounds a single websocket write.
const wsWriteTimeout = 5 * time.Second

// SettingsStore is the persisted configuration as seen by the handlers.
type SettingsStore interface {
	form.Validator
	Snapshot() settings.Settings
	Save() error
}

// PulseControl is the pulse controller as seen by the handlers.
type PulseControl interface {
	form.Validator
	Start() (pulse.Result, error)
	Stop()
	Params() pulse.Params
	Limits() settings.Limits
	LimitsString() string
}

// ModeSource reports the network mode, which decides the auth policy.
type ModeSource interface {
	Mode() lifecycle.Mode
}

// AddrSource reports the device address shown on the settings page.
type AddrSource interface {
	Addr() netip.Addr
}

// Config holds the server collaborators. Network may be nil.
type Config struct {
	Port        int
	TLSCertFile string
	TLSKeyFile  string

	Settings SettingsStore
	Pulse    PulseControl
	Modes    ModeSource
	Network  AddrSource
	Status   store.Store
	Auth     *auth.Digest
	Queue    *Queue
	Assets   fs.FS
	Logger   *slog.Logger
}

// Server serves the device web UI and control endpoints.
//
// Start and Stop may be called repeatedly; the lifecycle stops the server
// while the network is being set up and starts it again afterwards.
type Server struct {
	cfg      Config
	pages    *template.Template
	static   fs.FS
	router   *mux.Router
	upgrader websocket.Upgrader
	svn      atomic.Uint64
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	addr       net.Addr
}

// New creates a server. The server is not listening until [Server.Start].
func New(cfg Config) (*Server, error) {
	if cfg.Settings == nil || cfg.Pulse == nil || cfg.Modes == nil || cfg.Status == nil || cfg.Queue == nil {
		return nil, errors.New("server: missing collaborator")
	}
	if cfg.Assets == nil {
		return nil, errors.New("server: no assets")
	}
	if cfg.Auth == nil {
		cfg.Auth = auth.NewDigest(auth.DefaultRealm)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pages, err := template.ParseFS(cfg.Assets, "assets/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}
	static, err := fs.Sub(cfg.Assets, "assets")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		pages:  pages,
		static: static,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/control", s.handleControl).Methods(http.MethodGet)
	r.HandleFunc("/setcfg", s.handleSetConfig).Methods(http.MethodPost)
	r.HandleFunc("/pwmstop", s.handlePwmStop).Methods(http.MethodGet)
	r.HandleFunc("/pwmstart", s.handlePwmStart).Methods(http.MethodPost)
	r.HandleFunc("/ws/status", s.handleStatusStream).Methods(http.MethodGet)

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.static)))).
		Methods(http.MethodGet)

	return r
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in a background goroutine. It returns
// once the port is bound. Starting a running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return nil
	}

	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	useTLS := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end when the server stops, so handlers waiting
		// on the queue abandon their jobs
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.httpServer = srv
	s.cancel = cancel
	s.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("request server listening", "addr", ln.Addr().String(), "tls", useTLS)
	return nil
}

// Stop closes the listener and every connection. It does not wait for
// handlers: a handler blocked on the queue sees its request context end and
// abandons its job.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	s.cancel()
	err := s.httpServer.Close()
	s.httpServer = nil
	s.cancel = nil
	s.addr = nil

	s.logger.Info("request server stopped")
	if err != nil {
		return fmt.Errorf("failed to close http server: %w", err)
	}
	return nil
}

// Running reports whether the server is listening.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer != nil
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
