package hw

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// StaticInput is a mode-select input with a fixed, settable level.
type StaticInput struct {
	asserted atomic.Bool
}

// NewStaticInput creates an input at the given level.
func NewStaticInput(asserted bool) *StaticInput {
	in := &StaticInput{}
	in.asserted.Store(asserted)
	return in
}

// AccessPointRequested implements lifecycle.ModeInput.
func (s *StaticInput) AccessPointRequested() bool {
	return s.asserted.Load()
}

// Set changes the input level.
func (s *StaticInput) Set(asserted bool) {
	s.asserted.Store(asserted)
}

// ModemStatusReader reads serial modem lines. serial.Port satisfies it.
type ModemStatusReader interface {
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// SerialInput reads the mode select from the CTS line of a serial port.
type SerialInput struct {
	port   ModemStatusReader
	logger *slog.Logger

	mu      sync.Mutex
	last    bool
	failing bool
}

// NewSerialInput creates an input reading CTS from port.
func NewSerialInput(port ModemStatusReader, logger *slog.Logger) *SerialInput {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialInput{port: port, logger: logger}
}

// AccessPointRequested implements lifecycle.ModeInput. On a read error the
// last good level is returned.
func (s *SerialInput) AccessPointRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		if !s.failing {
			s.logger.Warn("failed to read mode select line", "error", err)
			s.failing = true
		}
		return s.last
	}
	if s.failing {
		s.logger.Info("mode select line readable again")
		s.failing = false
	}
	s.last = bits.CTS
	return s.last
}
