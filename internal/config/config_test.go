package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backend:
  url: http://filehost:8000
  reconnect_delay_seconds: 7
session:
  persona: pirate
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VOICEWIRE_BACKEND_URL", "http://envhost:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Env wins over file, file wins over default.
	if cfg.Backend.URL != "http://envhost:9000" {
		t.Errorf("URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.ReconnectDelaySeconds != 7 {
		t.Errorf("ReconnectDelaySeconds = %d", cfg.Backend.ReconnectDelaySeconds)
	}
	if cfg.Session.Persona != "pirate" {
		t.Errorf("Persona = %q", cfg.Session.Persona)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Untouched sections keep their defaults.
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Errorf("TargetSampleRate = %d", cfg.Audio.TargetSampleRate)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.URL != Default().Backend.URL {
		t.Errorf("URL = %q", cfg.Backend.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty backend url", func(c *Config) { c.Backend.URL = "" }},
		{"zero reconnect delay", func(c *Config) { c.Backend.ReconnectDelaySeconds = 0 }},
		{"native below target", func(c *Config) { c.Audio.NativeSampleRate = 8000 }},
		{"frame too small", func(c *Config) { c.Audio.FrameSamples = 256 }},
		{"frame too large", func(c *Config) { c.Audio.FrameSamples = 16000 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnsureSessionID_Stable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-id")

	first, err := ensureSessionIDAt(path)
	if err != nil {
		t.Fatalf("ensureSessionIDAt: %v", err)
	}
	if first == "" {
		t.Fatal("empty session ID")
	}
	second, err := ensureSessionIDAt(path)
	if err != nil {
		t.Fatalf("second ensureSessionIDAt: %v", err)
	}
	if second != first {
		t.Errorf("session ID regenerated: %q != %q", second, first)
	}
}

func TestBuildLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		logger, err := BuildLogger(LogConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("BuildLogger(%s): %v", format, err)
		}
		logger.Debug("probe")
	}
	if _, err := BuildLogger(LogConfig{Level: "loud", Format: "console"}); err == nil {
		t.Error("expected error for bad level")
	}
}
