package hw

import (
	"sync/atomic"
	"time"
)

// MonotonicClock counts milliseconds since it was created, wrapping at 2^32.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Millis implements pulse.Clock.
func (c *MonotonicClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ManualClock is a clock advanced explicitly.
type ManualClock struct {
	ms atomic.Uint32
}

// NewManualClock creates a clock reading start.
func NewManualClock(start uint32) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(start)
	return c
}

// Millis implements pulse.Clock.
func (c *ManualClock) Millis() uint32 {
	return c.ms.Load()
}

// Advance moves the clock forward by d milliseconds, wrapping at 2^32.
func (c *ManualClock) Advance(d uint32) {
	c.ms.Add(d)
}

// Set moves the clock to ms.
func (c *ManualClock) Set(ms uint32) {
	c.ms.Store(ms)
}
