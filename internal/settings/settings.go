package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/jpalmerr/pulsegen/internal/form"
)

// Setting field codes accepted by [Store.Apply].
const (
	KeyNetSSID = iota + 100
	KeyNetPass
	KeyAPSSID
	KeyAPPass
	KeyAuthUser
	KeyAuthPass
	KeyMDNSName
	KeyStaticIP
	KeySubnet
	KeyGateway
	KeyDNS
	KeyMaxFreq
	KeyMaxWidth
	KeyMaxDuty
	KeyMaxDuration
)

// NotSet is the placeholder for text settings that were never configured.
const NotSet = "<NOT SET>"

// Absolute ceilings for the configurable safety maxima.
const (
	CeilingFreqHz      = 1_000_000
	CeilingWidthUs     = 1_000_000
	CeilingDurationMs  = 3_600_000
	CeilingDutyPercent = 100
)

// Settings is the full persisted configuration.
type Settings struct {
	NetSSID  string
	NetPass  string
	APSSID   string
	APPass   string
	AuthUser string
	AuthPass string
	MDNSName string
	StaticIP string
	Subnet   string
	Gateway  string
	DNS      string

	MaxFreq     uint32  // Hz
	MaxWidth    uint32  // µs
	MaxDuty     float32 // %
	MaxDuration uint32  // ms
}

// Defaults returns the settings used before anything has been loaded.
func Defaults() Settings {
	return Settings{
		NetSSID:     NotSet,
		NetPass:     NotSet,
		APSSID:      "pulsegen",
		APPass:      "",
		AuthUser:    NotSet,
		AuthPass:    NotSet,
		MDNSName:    NotSet,
		StaticIP:    NotSet,
		Subnet:      NotSet,
		Gateway:     NotSet,
		DNS:         NotSet,
		MaxFreq:     500,
		MaxWidth:    1000,
		MaxDuty:     20,
		MaxDuration: 5000,
	}
}

// Limits are the configured safety maxima consumed by the pulse controller.
type Limits struct {
	MaxFreq     uint32
	MaxWidth    uint32
	MaxDuty     float32
	MaxDuration uint32
}

// StaticIP is a parsed static IPv4 configuration block.
type StaticIP struct {
	IP      netip.Addr
	Subnet  netip.Addr
	Gateway netip.Addr
	DNS     netip.Addr
}

// ErrInvalidStaticIP is returned by [Settings.StaticIPConfig] when a field of
// the static block does not parse.
var ErrInvalidStaticIP = errors.New("invalid static ip configuration")

// StaticIPConfig parses the static IP block. All four fields must be valid
// IPv4 literals.
func (s Settings) StaticIPConfig() (StaticIP, error) {
	var cfg StaticIP
	fields := []struct {
		name  string
		value string
		dst   *netip.Addr
	}{
		{"static_ip", s.StaticIP, &cfg.IP},
		{"subnet", s.Subnet, &cfg.Subnet},
		{"gateway", s.Gateway, &cfg.Gateway},
		{"dns", s.DNS, &cfg.DNS},
	}

	for _, f := range fields {
		addr, ok := parseIPv4(f.value)
		if !ok {
			return StaticIP{}, fmt.Errorf("%w: %s %q", ErrInvalidStaticIP, f.name, f.value)
		}
		*f.dst = addr
	}
	return cfg, nil
}

func parseIPv4(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}

// Store is the in-memory settings record with validated mutation and
// persistence.
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current Settings
	backend Backend
	logger  *slog.Logger
}

// NewStore creates a Store holding [Defaults] and persisting through backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current: Defaults(),
		backend: backend,
		logger:  logger,
	}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Limits returns the configured safety maxima.
func (s *Store) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Limits{
		MaxFreq:     s.current.MaxFreq,
		MaxWidth:    s.current.MaxWidth,
		MaxDuty:     s.current.MaxDuty,
		MaxDuration: s.current.MaxDuration,
	}
}

// Apply implements [form.Validator] for the setting field codes.
//
// Text fields are stored verbatim. IP fields must be IPv4 literals. The
// safety maxima must parse as non-negative numbers no larger than their
// absolute ceilings.
func (s *Store) Apply(key, value string) error {
	code, ok := form.ParseKey(key)
	if !ok || code < KeyNetSSID || code > KeyMaxDuration {
		return form.UnknownKey(key, value)
	}
	if len(value) > form.MaxValueLength {
		return form.TooLong(key, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.current
	switch code {
	case KeyNetSSID:
		c.NetSSID = value
	case KeyNetPass:
		c.NetPass = value
	case KeyAPSSID:
		c.APSSID = value
	case KeyAPPass:
		c.APPass = value
	case KeyAuthUser:
		c.AuthUser = value
	case KeyAuthPass:
		c.AuthPass = value
	case KeyMDNSName:
		c.MDNSName = value
	case KeyStaticIP:
		return setIP(&c.StaticIP, key, value, "static_ip")
	case KeySubnet:
		return setIP(&c.Subnet, key, value, "subnet")
	case KeyGateway:
		return setIP(&c.Gateway, key, value, "gateway")
	case KeyDNS:
		return setIP(&c.DNS, key, value, "dns")
	case KeyMaxFreq:
		n, err := parseCount(key, value, "Max frequency")
		if err != nil {
			return err
		}
		if n > CeilingFreqHz {
			return form.Rejectf(key, value,
				"Max frequency: %d [Hz] is invalid! It can't be more than 1MHz since period can't be smaller than 1 us", n)
		}
		c.MaxFreq = uint32(n)
	case KeyMaxWidth:
		n, err := parseCount(key, value, "Max width")
		if err != nil {
			return err
		}
		if n > CeilingWidthUs {
			return form.Rejectf(key, value,
				"Max width: %d [us] is invalid! It can't be more than 1 second (%d us)", n, CeilingWidthUs)
		}
		c.MaxWidth = uint32(n)
	case KeyMaxDuration:
		n, err := parseCount(key, value, "Max duration")
		if err != nil {
			return err
		}
		if n > CeilingDurationMs {
			return form.Rejectf(key, value,
				"Max duration: %d [ms] is invalid! It can't be more than 1 hour (%d ms)", n, CeilingDurationMs)
		}
		c.MaxDuration = uint32(n)
	case KeyMaxDuty:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil || math.IsNaN(f) || f < 0 {
			return form.Rejectf(key, value, "Max duty cycle must be a non-negative number, got %q", value)
		}
		if f > CeilingDutyPercent {
			return form.Rejectf(key, value,
				"Max duty cycle: %.1f [%%] is invalid! It can't be more than 100%%", f)
		}
		c.MaxDuty = float32(f)
	}
	return nil
}

func setIP(dst *string, key, value, name string) error {
	if _, ok := parseIPv4(value); !ok {
		return form.Rejectf(key, value, "Invalid IP for: %s", name)
	}
	*dst = value
	return nil
}

// parseCount parses a non-negative decimal integer field.
func parseCount(key, value, label string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, form.Rejectf(key, value, "%s must be a non-negative whole number, got %q", label, value)
	}
	return n, nil
}
