package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/config"
)

func TestDefaultsWhenFileAbsent(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/honeypotd.toml"} {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%q) failed: %v", path, err)
		}
		if len(cfg.Honeypot.Ports) != 6 {
			t.Errorf("default ports = %v", cfg.Honeypot.Ports)
		}
		if cfg.RateLimit.MaxPerWindow != 10 {
			t.Errorf("default maxPerWindow = %d", cfg.RateLimit.MaxPerWindow)
		}
		if cfg.Log.Store.Type != "file" {
			t.Errorf("default store type = %q", cfg.Log.Store.Type)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "honeypotd.toml")
	body := `
[honeypot]
ports = [2323, 8080]
maxConnections = 4
connectionTimeoutMs = 5000
enableLogging = true

[honeypot.services]
2323 = "TELNET"

[rateLimit]
enabled = true
window = "30s"
maxPerWindow = 5

[log]
maxEntries = 16

[log.store]
type = "none"

[api]
enabled = false

[geoip]
database = "/usr/share/GeoIP/GeoLite2-City.mmdb"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(cfg.Honeypot.Ports) != 2 || cfg.Honeypot.Ports[0] != 2323 {
		t.Errorf("ports = %v", cfg.Honeypot.Ports)
	}
	if cfg.Honeypot.MaxConnections != 4 {
		t.Errorf("maxConnections = %d", cfg.Honeypot.MaxConnections)
	}
	if cfg.Honeypot.Services["2323"] != "TELNET" {
		t.Errorf("services = %v", cfg.Honeypot.Services)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("window = %v", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.MaxPerWindow != 5 {
		t.Errorf("maxPerWindow = %d", cfg.RateLimit.MaxPerWindow)
	}
	if cfg.Log.MaxEntries != 16 || cfg.Log.Store.Type != "none" {
		t.Errorf("log section = %+v", cfg.Log)
	}
	if cfg.API.Enabled {
		t.Error("api not disabled")
	}
	if cfg.GeoIP.Database != "/usr/share/GeoIP/GeoLite2-City.mmdb" {
		t.Errorf("geoip database = %q", cfg.GeoIP.Database)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging section = %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "honeypotd.toml")
	body := `
[honeypot]
ports = [23]
maxConnections = 0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsUnknownService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "honeypotd.toml")
	body := `
[honeypot.services]
23 = "ssh"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected validation error for unknown service")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "honeypotd.toml")

	cfg := config.DefaultConfig()
	cfg.Honeypot.MaxConnections = 9
	cfg.RateLimit.Window = 45 * time.Second
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Honeypot.MaxConnections != 9 {
		t.Errorf("maxConnections = %d", loaded.Honeypot.MaxConnections)
	}
	if loaded.RateLimit.Window != 45*time.Second {
		t.Errorf("window = %v", loaded.RateLimit.Window)
	}
	if loaded.API.Bind != cfg.API.Bind {
		t.Errorf("bind = %q, want %q", loaded.API.Bind, cfg.API.Bind)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tc := range cases {
		logger := config.LoggingConfig{Level: tc.level}.NewLogger()
		if logger.GetLevel() != tc.want {
			t.Errorf("level %q parsed to %v, want %v", tc.level, logger.GetLevel(), tc.want)
		}
	}
}
