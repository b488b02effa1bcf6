package server

import (
	"bytes"
	"net/http"

	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/lifecycle"
	"github.com/jpalmerr/pulsegen/internal/pulse"
	"github.com/jpalmerr/pulsegen/internal/settings"
)

// noAddr is shown for the access point address while the access point is down.
const noAddr = "0.0.0.0"

type pageData struct {
	Title   string
	Service uint64
	Mode    string

	// config
	Settings settings.Settings
	MaxLen   int
	APAddr   string
	MinFreq  uint32
	MaxFreq  uint32
	MinWidth uint32
	MaxWidth uint32

	// control
	Limits         settings.Limits
	Params         pulse.Params
	MaxDurationSec float64
	DurationSec    float64
}

func (s *Server) newPage(title string) pageData {
	return pageData{
		Title:   title,
		Service: s.svn.Add(1),
		Mode:    s.cfg.Modes.Mode().String(),
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, func() {
		s.render(w, "index", s.newPage("Home"))
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, func() {
		data := s.newPage("Configuration")
		data.Settings = s.cfg.Settings.Snapshot()
		data.MaxLen = form.MaxValueLength
		data.APAddr = noAddr
		if s.cfg.Network != nil && s.cfg.Modes.Mode() == lifecycle.AccessPoint {
			if addr := s.cfg.Network.Addr(); addr.IsValid() {
				data.APAddr = addr.String()
			}
		}
		data.MinFreq, data.MaxFreq = pulse.MinFreqHz, pulse.MaxFreqHz
		data.MinWidth, data.MaxWidth = pulse.MinWidthUs, pulse.MaxWidthUs
		s.render(w, "config", data)
	})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, func() {
		data := s.newPage("Control")
		data.Limits = s.cfg.Pulse.Limits()
		data.Params = s.cfg.Pulse.Params()
		data.MaxDurationSec = float64(data.Limits.MaxDuration) / 1000
		data.DurationSec = float64(data.Params.DurationMs) / 1000
		s.render(w, "control", data)
	})
}
