package main

import (
	"log/slog"

	"github.com/jpalmerr/pulsegen/internal/hw"
)

// loggingOutput wraps a simulated output and logs every command.
type loggingOutput struct {
	sim    *hw.SimOutput
	logger *slog.Logger
}

func newLoggingOutput(sim *hw.SimOutput, logger *slog.Logger) *loggingOutput {
	return &loggingOutput{sim: sim, logger: logger}
}

func (o *loggingOutput) SetLevel(level uint32) error {
	o.logger.Info("output", "command", "level", "value", level)
	return o.sim.SetLevel(level)
}

func (o *loggingOutput) SetFrequency(hz uint32) error {
	o.logger.Info("output", "command", "frequency", "value", hz)
	return o.sim.SetFrequency(hz)
}

func (o *loggingOutput) Drive(high bool) error {
	o.logger.Info("output", "command", "drive", "high", high)
	return o.sim.Drive(high)
}
