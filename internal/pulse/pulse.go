package pulse

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/settings"
	"github.com/jpalmerr/pulsegen/internal/store"
)

// Pulse parameter field codes accepted by [Controller.Apply].
const (
	KeyFrequency = iota + 200
	KeyWidth
	KeyDuty
	KeyDuration
)

// Device limits.
const (
	PWMRange   = 1024
	MinFreqHz  = 100
	MaxFreqHz  = 1000
	MinWidthUs = 1
	MaxWidthUs = 10000
)

// Result is the outcome of [Controller.Start].
type Result int

const (
	Off Result = iota
	Pwm
	PwmClipped
	Cw
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case Off:
		return "off"
	case Pwm:
		return "pwm"
	case PwmClipped:
		return "pwm_clipped"
	case Cw:
		return "cw"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Output is the pulse output peripheral.
type Output interface {
	// SetLevel sets the PWM level in [0, PWMRange].
	SetLevel(level uint32) error
	// SetFrequency sets the PWM carrier frequency.
	SetFrequency(hz uint32) error
	// Drive sets the pin statically high or low.
	Drive(high bool) error
}

// Clock is a wrapping millisecond counter.
type Clock interface {
	Millis() uint32
}

// LimitSource provides the configured safety maxima.
type LimitSource interface {
	Limits() settings.Limits
}

// StatusSink receives every output change.
type StatusSink interface {
	Update(status store.OutputStatus)
}

// Params are the staged pulse parameters.
type Params struct {
	FrequencyHz uint32
	WidthUs     uint32
	Duty        float32
	DurationMs  uint32
}

// DefaultParams returns the parameters staged at power-on.
func DefaultParams() Params {
	return Params{FrequencyHz: 100, WidthUs: 200, DurationMs: 1000}
}

// ErrOutput wraps output peripheral failures returned by [Controller.Start].
var ErrOutput = errors.New("output failure")

// Controller owns the pulse output.
//
// Start, Stop and Tick are the only paths that command the output.
type Controller struct {
	mu     sync.Mutex
	out    Output
	clock  Clock
	limits LimitSource
	sink   StatusSink
	logger *slog.Logger

	params Params
	active bool
	t0     uint32
	level  uint32
	mode   string

	bound atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithStatusSink publishes output changes to sink.
func WithStatusSink(sink StatusSink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a controller with [DefaultParams] staged.
func NewController(out Output, clock Clock, limits LimitSource, opts ...Option) *Controller {
	c := &Controller{
		out:    out,
		clock:  clock,
		limits: limits,
		logger: slog.Default(),
		params: DefaultParams(),
		mode:   "off",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind marks the controller as owned. It returns false if it was already
// bound.
func (c *Controller) Bind() bool {
	return c.bound.CompareAndSwap(false, true)
}

// Params returns the staged parameters.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Active reports whether a pulse is commanded.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Limits returns the configured maxima used for validation and clamping.
func (c *Controller) Limits() settings.Limits {
	return c.limits.Limits()
}

// LimitsString describes the device and configured limits.
func (c *Controller) LimitsString() string {
	l := c.limits.Limits()
	return fmt.Sprintf("Frequency: [%d,%d] Hz | Width: [%d,%d] us | Duty Cycle: [0,%.2f] %% | Duration: [0,%d] ms",
		MinFreqHz, MaxFreqHz, MinWidthUs, MaxWidthUs, l.MaxDuty, l.MaxDuration)
}

// Apply implements [form.Validator] for the pulse field codes.
//
// The duration value is in seconds and is stored in milliseconds.
func (c *Controller) Apply(key, value string) error {
	code, ok := form.ParseKey(key)
	if !ok || code < KeyFrequency || code > KeyDuration {
		return form.UnknownKey(key, value)
	}
	if len(value) > form.MaxValueLength {
		return form.TooLong(key, value)
	}

	l := c.limits.Limits()
	value = strings.TrimSpace(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch code {
	case KeyFrequency:
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return form.Rejectf(key, value, "PWM frequency must be a non-negative whole number, got %q", value)
		}
		if n > uint64(l.MaxFreq) {
			return form.Rejectf(key, value, "PWM frequency: %d is invalid! Max: %d [Hz]", n, l.MaxFreq)
		}
		c.params.FrequencyHz = uint32(n)
	case KeyWidth:
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return form.Rejectf(key, value, "PWM width must be a non-negative whole number, got %q", value)
		}
		if n > uint64(l.MaxWidth) {
			return form.Rejectf(key, value, "PWM width: %d is invalid! Max: %d [us]", n, l.MaxWidth)
		}
		c.params.WidthUs = uint32(n)
	case KeyDuty:
		f, err := parseNonNegative(value)
		if err != nil {
			return form.Rejectf(key, value, "PWM duty cycle must be a non-negative number, got %q", value)
		}
		if float32(f) > l.MaxDuty {
			return form.Rejectf(key, value, "PWM duty cycle: %.1f is invalid! Max: %.1f [%%]", f, l.MaxDuty)
		}
		c.params.Duty = float32(f)
	case KeyDuration:
		f, err := parseNonNegative(value)
		if err != nil {
			return form.Rejectf(key, value, "PWM duration must be a non-negative number of seconds, got %q", value)
		}
		ms := math.Round(f * 1000)
		if ms > float64(l.MaxDuration) {
			return form.Rejectf(key, value, "PWM duration: %.0f is invalid! Max: %d [ms]", ms, l.MaxDuration)
		}
		c.params.DurationMs = uint32(ms)
	}
	return nil
}

func parseNonNegative(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return f, nil
}

// Start clamps the staged parameters and commands the output.
//
// Clamps write back into the staged parameters. An output failure forces the
// pin off and is returned with Off.
func (c *Controller) Start() (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.limits.Limits()
	p := &c.params
	clipped := false

	if p.FrequencyHz > MaxFreqHz {
		p.FrequencyHz = MaxFreqHz
		clipped = true
	}
	if p.FrequencyHz < MinFreqHz && p.FrequencyHz != 0 {
		clipped = true
	}

	if p.WidthUs > MaxWidthUs {
		p.WidthUs = MaxWidthUs
		clipped = true
	}
	if p.WidthUs < MinWidthUs {
		p.WidthUs = MinWidthUs
		clipped = true
	}

	if p.DurationMs > l.MaxDuration {
		p.DurationMs = l.MaxDuration
		clipped = true
	}

	if p.WidthUs == 0 || p.DurationMs == 0 {
		c.stopLocked("zero energy")
		return Off, nil
	}

	var level uint32
	if p.FrequencyHz != 0 {
		period := 1_000_000 / p.FrequencyHz
		duty := 100 * p.WidthUs / period
		if float32(duty) > l.MaxDuty {
			p.WidthUs = uint32(l.MaxDuty * float32(period) / 100)
			clipped = true
		}
		level = PWMRange * p.WidthUs / period
	} else if p.WidthUs >= l.MaxWidth {
		level = PWMRange
	}

	if level == 0 {
		c.stopLocked("zero level")
		return Off, nil
	}

	c.active = true
	c.t0 = c.clock.Millis()

	if level < PWMRange {
		if err := c.commandPWM(p.FrequencyHz, level); err != nil {
			c.stopLocked("output failure")
			return Off, err
		}
		c.level = level
		c.mode = "pwm"
		result := Pwm
		if clipped {
			result = PwmClipped
		}
		c.started(result)
		return result, nil
	}

	if err := c.out.Drive(true); err != nil {
		c.stopLocked("output failure")
		return Off, fmt.Errorf("%w: drive high: %w", ErrOutput, err)
	}
	c.level = PWMRange
	c.mode = "cw"
	c.started(Cw)
	return Cw, nil
}

// commandPWM zeroes the output before changing frequency, then sets level.
func (c *Controller) commandPWM(hz, level uint32) error {
	if err := c.out.SetLevel(0); err != nil {
		return fmt.Errorf("%w: zero level: %w", ErrOutput, err)
	}
	if err := c.out.SetFrequency(hz); err != nil {
		return fmt.Errorf("%w: set frequency: %w", ErrOutput, err)
	}
	if err := c.out.SetLevel(level); err != nil {
		return fmt.Errorf("%w: set level: %w", ErrOutput, err)
	}
	return nil
}

func (c *Controller) started(result Result) {
	c.logger.Info("pulse started",
		"result", result.String(),
		"frequency_hz", c.params.FrequencyHz,
		"width_us", c.params.WidthUs,
		"duration_ms", c.params.DurationMs,
		"level", c.level,
	)
	c.publish(result.String())
}

// Stop drives the output off. It is safe to call at any time.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked("stopped")
}

// Tick stops an active pulse whose duration has elapsed.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	if c.clock.Millis()-c.t0 >= c.params.DurationMs {
		c.stopLocked("expired")
	}
}

func (c *Controller) stopLocked(reason string) {
	if err := c.out.Drive(false); err != nil {
		c.logger.Error("failed to drive output off", "error", err)
	}

	wasActive := c.active
	c.active = false
	c.level = 0
	c.mode = "off"

	if wasActive {
		c.logger.Info("pulse stopped", "reason", reason)
		c.publish(reason)
	}
}

func (c *Controller) publish(result string) {
	if c.sink == nil {
		return
	}
	c.sink.Update(store.OutputStatus{
		Active:      c.active,
		Mode:        c.mode,
		FrequencyHz: c.params.FrequencyHz,
		WidthUs:     c.params.WidthUs,
		DurationMs:  c.params.DurationMs,
		Level:       c.level,
		Result:      result,
		ChangedAt:   time.Now(),
	})
}
