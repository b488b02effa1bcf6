package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/pulse"
)

// Status payload colors.
const (
	ColorInfo    = "#009900"
	ColorWarning = "#e6b800"
	ColorError   = "#AA0000"
)

// MaxMessageLength bounds the status message text, before any prefix.
const MaxMessageLength = 384

// Level selects the color and prefix of a status payload.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// Response is the status payload returned by the action endpoints.
type Response struct {
	Svn uint64 `json:"svn"`
	Clr string `json:"clr"`
	Msg string `json:"msg"`
}

func newResponse(svn uint64, level Level, msg string) Response {
	if r := []rune(msg); len(r) > MaxMessageLength {
		msg = string(r[:MaxMessageLength])
	}
	switch level {
	case LevelWarning:
		return Response{Svn: svn, Clr: ColorWarning, Msg: "WARNING: " + msg}
	case LevelError:
		return Response{Svn: svn, Clr: ColorError, Msg: "ERROR: " + msg}
	default:
		return Response{Svn: svn, Clr: ColorInfo, Msg: msg}
	}
}

// serve runs fn on the control loop after the auth gate. fn may write to w:
// the request goroutine is blocked until the job finishes.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, fn func()) {
	s.logger.Info("request", "method", r.Method, "path", r.URL.Path)

	err := s.cfg.Queue.Do(r.Context(), func() {
		if !s.authorize(w, r) {
			return
		}
		fn()
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrQueueFull):
		s.logger.Warn("request rejected", "path", r.URL.Path, "error", err)
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
	default:
		s.logger.Debug("request abandoned", "path", r.URL.Path, "error", err)
	}
}

// authorize reports whether the request may proceed. In access point mode
// every request is accepted; otherwise a failed check sends a challenge.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Modes.Mode() == lifecycle.AccessPoint {
		return true
	}
	cur := s.cfg.Settings.Snapshot()
	if s.cfg.Auth.Check(r, cur.AuthUser, cur.AuthPass) {
		return true
	}
	s.logger.Warn("authentication failed", "path", r.URL.Path, "remote", r.RemoteAddr)
	s.cfg.Auth.Challenge(w, r)
	return false
}

func (s *Server) respond(w http.ResponseWriter, level Level, msg string) {
	resp := newResponse(s.svn.Add(1), level, msg)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// reason returns the user facing text of a batch failure.
func reason(err error) string {
	var ferr *form.Error
	if errors.As(err, &ferr) {
		return ferr.Reason()
	}
	return err.Error()
}

func (s *Server) readPairs(w http.ResponseWriter, r *http.Request) ([]form.Pair, bool) {
	pairs, err := form.PairsFromRequest(r)
	if err != nil {
		s.logger.Warn("bad request body", "path", r.URL.Path, "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return nil, false
	}
	return pairs, true
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	pairs, ok := s.readPairs(w, r)
	if !ok {
		return
	}
	s.serve(w, r, func() {
		if err := form.ApplyBatch(s.cfg.Settings, pairs); err != nil {
			s.logger.Info("configuration rejected", "error", err)
			s.respond(w, LevelError, reason(err))
			return
		}
		if err := s.cfg.Settings.Save(); err != nil {
			s.logger.Error("failed to save configuration", "error", err)
			s.respond(w, LevelError, fmt.Sprintf("Failed to save configuration! err: %v", err))
			return
		}
		s.respond(w, LevelInfo, "Successfully saved configuration")
	})
}

func (s *Server) handlePwmStop(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, func() {
		s.cfg.Pulse.Stop()
		s.respond(w, LevelInfo, "Interrupter stopped with stop button")
	})
}

func (s *Server) handlePwmStart(w http.ResponseWriter, r *http.Request) {
	pairs, ok := s.readPairs(w, r)
	if !ok {
		return
	}
	s.serve(w, r, func() {
		if err := form.ApplyBatch(s.cfg.Pulse, pairs); err != nil {
			s.logger.Info("pulse parameters rejected", "error", err)
			s.respond(w, LevelError, reason(err))
			return
		}

		result, err := s.cfg.Pulse.Start()
		switch {
		case err != nil:
			s.respond(w, LevelError, fmt.Sprintf("Interrupter start failed! err: %v", err))
		case result == pulse.Pwm:
			s.respond(w, LevelInfo, "Interrupter started in PWM mode")
		case result == pulse.PwmClipped:
			s.respond(w, LevelWarning, "Interrupter started in PWM mode with clipped parameters! Limits: "+s.cfg.Pulse.LimitsString())
		case result == pulse.Cw:
			s.respond(w, LevelWarning, "Interrupter started in CW mode - Watch for overheating")
		default:
			s.respond(w, LevelError, "Interrupter stopped with low parameters")
		}
	})
}
