package settings

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PersistenceError reports a failed load or save.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ErrMissingField is wrapped by load errors for a blob lacking a field.
var ErrMissingField = errors.New("missing field")

// record is the persisted blob layout. Pointer fields detect absent keys.
type record struct {
	NetSSID     *string  `json:"net_ssid"`
	NetPass     *string  `json:"net_pass"`
	APSSID      *string  `json:"ap_ssid"`
	APPass      *string  `json:"ap_pass"`
	AuthUser    *string  `json:"auth_user"`
	AuthPass    *string  `json:"auth_pass"`
	MDNSName    *string  `json:"mdns_name"`
	StaticIP    *string  `json:"static_ip"`
	Subnet      *string  `json:"subnet"`
	Gateway     *string  `json:"gateway"`
	DNS         *string  `json:"dns"`
	MaxFreq     *uint32  `json:"max_freq"`
	MaxWidth    *uint32  `json:"max_width"`
	MaxDuty     *float32 `json:"max_duty"`
	MaxDuration *uint32  `json:"max_duration"`
}

func toRecord(s Settings) record {
	return record{
		NetSSID:     &s.NetSSID,
		NetPass:     &s.NetPass,
		APSSID:      &s.APSSID,
		APPass:      &s.APPass,
		AuthUser:    &s.AuthUser,
		AuthPass:    &s.AuthPass,
		MDNSName:    &s.MDNSName,
		StaticIP:    &s.StaticIP,
		Subnet:      &s.Subnet,
		Gateway:     &s.Gateway,
		DNS:         &s.DNS,
		MaxFreq:     &s.MaxFreq,
		MaxWidth:    &s.MaxWidth,
		MaxDuty:     &s.MaxDuty,
		MaxDuration: &s.MaxDuration,
	}
}

// settings converts a decoded record, failing on the first absent field.
func (r record) settings() (Settings, error) {
	var s Settings
	strs := []struct {
		name string
		src  *string
		dst  *string
	}{
		{"net_ssid", r.NetSSID, &s.NetSSID},
		{"net_pass", r.NetPass, &s.NetPass},
		{"ap_ssid", r.APSSID, &s.APSSID},
		{"ap_pass", r.APPass, &s.APPass},
		{"auth_user", r.AuthUser, &s.AuthUser},
		{"auth_pass", r.AuthPass, &s.AuthPass},
		{"mdns_name", r.MDNSName, &s.MDNSName},
		{"static_ip", r.StaticIP, &s.StaticIP},
		{"subnet", r.Subnet, &s.Subnet},
		{"gateway", r.Gateway, &s.Gateway},
		{"dns", r.DNS, &s.DNS},
	}
	for _, f := range strs {
		if f.src == nil {
			return Settings{}, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		*f.dst = *f.src
	}

	nums := []struct {
		name string
		src  *uint32
		dst  *uint32
	}{
		{"max_freq", r.MaxFreq, &s.MaxFreq},
		{"max_width", r.MaxWidth, &s.MaxWidth},
		{"max_duration", r.MaxDuration, &s.MaxDuration},
	}
	for _, f := range nums {
		if f.src == nil {
			return Settings{}, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		*f.dst = *f.src
	}

	if r.MaxDuty == nil {
		return Settings{}, fmt.Errorf("%w: %s", ErrMissingField, "max_duty")
	}
	s.MaxDuty = *r.MaxDuty

	return s, nil
}

// Load replaces the in-memory settings with the persisted blob.
//
// A missing blob, a parse failure, or a blob lacking any field returns a
// *PersistenceError and leaves the in-memory settings unchanged.
func (s *Store) Load() error {
	data, err := s.backend.Read()
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return &PersistenceError{Op: "load", Err: fmt.Errorf("failed to parse settings: %w", err)}
	}
	loaded, err := rec.settings()
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()

	s.logger.Info("settings loaded", "backend", fmt.Sprint(s.backend), "bytes", len(data))
	return nil
}

// Save writes every field to the backend, replacing the previous blob.
func (s *Store) Save() error {
	s.mu.RLock()
	rec := toRecord(s.current)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("failed to encode settings: %w", err)}
	}
	if err := s.backend.Write(data); err != nil {
		s.logger.Error("settings save failed", "error", err)
		return &PersistenceError{Op: "save", Err: err}
	}

	s.logger.Info("settings saved", "backend", fmt.Sprint(s.backend), "bytes", len(data))
	return nil
}
