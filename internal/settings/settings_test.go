package settings

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpalmerr/pulsegen/internal/form"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaults(t *testing.T) {
	s := NewStore(&MemoryBackend{}, testLogger())
	got := s.Snapshot()

	if got.NetSSID != NotSet {
		t.Errorf("NetSSID = %q, want %q", got.NetSSID, NotSet)
	}
	if got.APSSID != "pulsegen" {
		t.Errorf("APSSID = %q, want %q", got.APSSID, "pulsegen")
	}
	if got.APPass != "" {
		t.Errorf("APPass = %q, want empty", got.APPass)
	}

	want := Limits{MaxFreq: 500, MaxWidth: 1000, MaxDuty: 20, MaxDuration: 5000}
	if l := s.Limits(); l != want {
		t.Errorf("Limits() = %+v, want %+v", l, want)
	}
}

func TestStore_Apply(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		wantCode form.Code
	}{
		{"ssid", "100", "home-net", form.OK},
		{"ap pass", "103", "secret", form.OK},
		{"mdns", "106", "coil", form.OK},
		{"static ip", "107", "192.168.1.50", form.OK},
		{"static ip not ip", "107", "192.168.1", form.InvalidValue},
		{"static ip v6", "107", "::1", form.InvalidValue},
		{"subnet", "108", "255.255.255.0", form.OK},
		{"gateway bad", "109", "gateway", form.InvalidValue},
		{"dns", "110", "1.1.1.1", form.OK},
		{"max freq", "111", "1000", form.OK},
		{"max freq ceiling", "111", "1000000", form.OK},
		{"max freq above ceiling", "111", "1000001", form.InvalidValue},
		{"max freq negative", "111", "-5", form.InvalidValue},
		{"max freq not number", "111", "fast", form.InvalidValue},
		{"max width ceiling", "112", "1000000", form.OK},
		{"max width above ceiling", "112", "1000001", form.InvalidValue},
		{"max duty", "113", "12.5", form.OK},
		{"max duty ceiling", "113", "100", form.OK},
		{"max duty above ceiling", "113", "100.1", form.InvalidValue},
		{"max duty negative", "113", "-1", form.InvalidValue},
		{"max duty nan", "113", "NaN", form.InvalidValue},
		{"max duration ceiling", "114", "3600000", form.OK},
		{"max duration above ceiling", "114", "3600001", form.InvalidValue},
		{"pulse key", "200", "100", form.InvalidKey},
		{"below range", "99", "x", form.InvalidKey},
		{"not numeric", "ssid", "x", form.InvalidKey},
		{"too long", "100", strings.Repeat("a", form.MaxValueLength+1), form.ValueTooLong},
		{"exactly max length", "100", strings.Repeat("a", form.MaxValueLength), form.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(&MemoryBackend{}, testLogger())
			err := s.Apply(tt.key, tt.value)
			if got := form.CodeOf(err); got != tt.wantCode {
				t.Errorf("Apply(%q, %q) code = %v, want %v (err: %v)", tt.key, tt.value, got, tt.wantCode, err)
			}
		})
	}
}

func TestStore_ApplyUnknownKeyBeforeLength(t *testing.T) {
	s := NewStore(&MemoryBackend{}, testLogger())
	err := s.Apply("999", strings.Repeat("x", 200))
	if !errors.Is(err, form.ErrInvalidKey) {
		t.Errorf("Apply() = %v, want ErrInvalidKey", err)
	}
}

func TestStore_ApplyRejectionLeavesField(t *testing.T) {
	s := NewStore(&MemoryBackend{}, testLogger())
	_ = s.Apply("111", "2000000")

	if got := s.Limits().MaxFreq; got != 500 {
		t.Errorf("MaxFreq = %d, want 500", got)
	}
}

func TestStore_ApplyMessages(t *testing.T) {
	s := NewStore(&MemoryBackend{}, testLogger())

	err := s.Apply("107", "nope")
	var fe *form.Error
	if !errors.As(err, &fe) {
		t.Fatalf("Apply() = %v, want *form.Error", err)
	}
	if fe.Reason() != "Invalid IP for: static_ip" {
		t.Errorf("Reason() = %q, want %q", fe.Reason(), "Invalid IP for: static_ip")
	}

	err = s.Apply("112", "2000000")
	if !errors.As(err, &fe) {
		t.Fatalf("Apply() = %v, want *form.Error", err)
	}
	if !strings.Contains(fe.Reason(), "2000000") {
		t.Errorf("Reason() = %q, want it to name the value", fe.Reason())
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "nested", "settings.json"))
	s := NewStore(backend, testLogger())

	pairs := []form.Pair{
		{Key: "100", Value: "home"},
		{Key: "101", Value: "p@ss \"quoted\" ünï"},
		{Key: "102", Value: "ap-name"},
		{Key: "103", Value: ""},
		{Key: "104", Value: "admin"},
		{Key: "105", Value: "hunter2"},
		{Key: "106", Value: "coil"},
		{Key: "107", Value: "10.0.0.2"},
		{Key: "108", Value: "255.0.0.0"},
		{Key: "109", Value: "10.0.0.1"},
		{Key: "110", Value: "10.0.0.1"},
		{Key: "111", Value: "750"},
		{Key: "112", Value: "4321"},
		{Key: "113", Value: "33.3"},
		{Key: "114", Value: "12345"},
	}
	if err := form.ApplyBatch(s, pairs); err != nil {
		t.Fatalf("ApplyBatch() = %v", err)
	}
	want := s.Snapshot()

	if err := s.Save(); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	loaded := NewStore(backend, testLogger())
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got := loaded.Snapshot(); got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestStore_SaveFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewStore(NewFileBackend(path), testLogger())
	if err := s.Save(); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestStore_LoadFailures(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		wantErr error
	}{
		{"not json", "{nope", nil},
		{"missing field", `{"net_ssid":"x"}`, ErrMissingField},
		{"null field", `{"net_ssid":null,"net_pass":"","ap_ssid":"","ap_pass":"","auth_user":"","auth_pass":"","mdns_name":"","static_ip":"","subnet":"","gateway":"","dns":"","max_freq":1,"max_width":1,"max_duty":1,"max_duration":1}`, ErrMissingField},
		{"missing duty", `{"net_ssid":"","net_pass":"","ap_ssid":"","ap_pass":"","auth_user":"","auth_pass":"","mdns_name":"","static_ip":"","subnet":"","gateway":"","dns":"","max_freq":1,"max_width":1,"max_duration":1}`, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &MemoryBackend{}
			if err := backend.Write([]byte(tt.blob)); err != nil {
				t.Fatal(err)
			}
			s := NewStore(backend, testLogger())
			_ = s.Apply("100", "before")

			err := s.Load()
			var pe *PersistenceError
			if !errors.As(err, &pe) {
				t.Fatalf("Load() = %v, want *PersistenceError", err)
			}
			if pe.Op != "load" {
				t.Errorf("Op = %q, want %q", pe.Op, "load")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() = %v, want %v", err, tt.wantErr)
			}
			if got := s.Snapshot().NetSSID; got != "before" {
				t.Errorf("NetSSID = %q, want unchanged %q", got, "before")
			}
		})
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "absent.json")), testLogger())
	err := s.Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() = %v, want os.ErrNotExist", err)
	}
}

func TestStore_SaveFailure(t *testing.T) {
	backend := &MemoryBackend{WriteErr: errors.New("disk full")}
	s := NewStore(backend, testLogger())

	err := s.Save()
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "save" {
		t.Fatalf("Save() = %v, want save *PersistenceError", err)
	}
}

func TestSettings_StaticIPConfig(t *testing.T) {
	s := Defaults()
	if _, err := s.StaticIPConfig(); !errors.Is(err, ErrInvalidStaticIP) {
		t.Errorf("StaticIPConfig() on defaults = %v, want ErrInvalidStaticIP", err)
	}

	s.StaticIP = "192.168.4.10"
	s.Subnet = "255.255.255.0"
	s.Gateway = "192.168.4.1"
	s.DNS = "8.8.8.8"
	cfg, err := s.StaticIPConfig()
	if err != nil {
		t.Fatalf("StaticIPConfig() = %v", err)
	}
	if cfg.Gateway.String() != "192.168.4.1" {
		t.Errorf("Gateway = %v, want 192.168.4.1", cfg.Gateway)
	}
}
