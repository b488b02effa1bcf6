package hw

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// Command is one output instruction in wire form, without the newline.
type Command string

func levelCommand(level uint32) Command { return Command(fmt.Sprintf("L %d", level)) }
func freqCommand(hz uint32) Command     { return Command(fmt.Sprintf("F %d", hz)) }

func driveCommand(high bool) Command {
	if high {
		return "D 1"
	}
	return "D 0"
}

// SimOutput is an in-memory output. It records every command and the
// resulting pin state.
type SimOutput struct {
	mu       sync.Mutex
	commands []Command
	level    uint32
	freq     uint32
	high     bool

	// When Err is set, every command after the first FailAfter recorded
	// commands fails with Err.
	Err       error
	FailAfter int
}

// NewSimOutput creates a simulated output with the pin low.
func NewSimOutput() *SimOutput {
	return &SimOutput{}
}

func (s *SimOutput) record(cmd Command) error {
	if s.Err != nil && len(s.commands) >= s.FailAfter {
		return s.Err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

// SetLevel implements pulse.Output.
func (s *SimOutput) SetLevel(level uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(levelCommand(level)); err != nil {
		return err
	}
	s.level = level
	s.high = false
	return nil
}

// SetFrequency implements pulse.Output.
func (s *SimOutput) SetFrequency(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(freqCommand(hz)); err != nil {
		return err
	}
	s.freq = hz
	return nil
}

// Drive implements pulse.Output.
func (s *SimOutput) Drive(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(driveCommand(high)); err != nil {
		return err
	}
	s.high = high
	s.level = 0
	return nil
}

// Commands returns a copy of every recorded command.
func (s *SimOutput) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Reset clears the command log.
func (s *SimOutput) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

// Level returns the current PWM level.
func (s *SimOutput) Level() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Frequency returns the current PWM frequency.
func (s *SimOutput) Frequency() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

// High reports whether the pin is statically driven high.
func (s *SimOutput) High() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high
}

// On reports whether the output is emitting anything.
func (s *SimOutput) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high || s.level > 0
}

// SerialOutput sends output commands over a serial link.
type SerialOutput struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

// NewSerialOutput creates an output writing commands to w.
func NewSerialOutput(w io.Writer, logger *slog.Logger) *SerialOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialOutput{w: w, logger: logger}
}

func (s *SerialOutput) send(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("serial output", "command", string(cmd))
	if _, err := io.WriteString(s.w, string(cmd)+"\n"); err != nil {
		return fmt.Errorf("failed to write %q: %w", cmd, err)
	}
	return nil
}

// SetLevel implements pulse.Output.
func (s *SerialOutput) SetLevel(level uint32) error { return s.send(levelCommand(level)) }

// SetFrequency implements pulse.Output.
func (s *SerialOutput) SetFrequency(hz uint32) error { return s.send(freqCommand(hz)) }

// Drive implements pulse.Output.
func (s *SerialOutput) Drive(high bool) error { return s.send(driveCommand(high)) }

// OpenPort opens a serial port at the given baud rate.
func OpenPort(name string, baud int) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return p, nil
}
