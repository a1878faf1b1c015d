// Package config loads voicewire settings from defaults, an optional YAML
// config file, and environment overrides, in that order. A .env file in the
// working directory is folded into the environment before overrides apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig locates the voice backend.
type BackendConfig struct {
	// URL is the backend root, e.g. "http://localhost:8000". The streaming
	// channel derives its ws/wss URL from it.
	URL string `yaml:"url"`
	// ReconnectDelaySeconds is the fixed pause before a streaming-channel
	// reconnect attempt.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
}

// AudioConfig controls the capture/encode pipeline.
type AudioConfig struct {
	// TargetSampleRate is the wire rate of outbound PCM.
	TargetSampleRate int `yaml:"target_sample_rate"`
	// NativeSampleRate is the requested microphone rate.
	NativeSampleRate int `yaml:"native_sample_rate"`
	// FrameSamples is the number of wire-rate samples per outbound frame.
	FrameSamples int `yaml:"frame_samples"`
}

// SessionConfig carries conversation identity and feature flags.
type SessionConfig struct {
	// ID pins a session identity. Empty means load-or-create the per-user
	// persistent ID.
	ID            string `yaml:"id"`
	TurnDetection bool   `yaml:"turn_detection"`
	Persona       string `yaml:"persona"`
	FileCheck     bool   `yaml:"file_check"`
	// LogDir overrides the conversation log location.
	LogDir string `yaml:"log_dir"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:                   "http://localhost:8000",
			ReconnectDelaySeconds: 5,
		},
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			NativeSampleRate: 48000,
			FrameSamples:     4096,
		},
		Session: SessionConfig{
			TurnDetection: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the config file (explicit
// path or the XDG location), then environment variables.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Session.LogDir = expandTilde(cfg.Session.LogDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must not be empty")
	}
	if c.Backend.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("backend.reconnect_delay_seconds must be positive")
	}
	if c.Audio.TargetSampleRate <= 0 || c.Audio.NativeSampleRate <= 0 {
		return fmt.Errorf("audio sample rates must be positive")
	}
	if c.Audio.NativeSampleRate < c.Audio.TargetSampleRate {
		return fmt.Errorf("audio.native_sample_rate %d below target rate %d",
			c.Audio.NativeSampleRate, c.Audio.TargetSampleRate)
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("audio.frame_samples must be positive")
	}
	// Frames outside this window either add latency the backend notices or
	// arrive faster than it wants to chunk.
	frameMs := c.Audio.FrameSamples * 1000 / c.Audio.TargetSampleRate
	if frameMs < 100 || frameMs > 450 {
		return fmt.Errorf("audio.frame_samples %d yields %dms frames, want 100-450ms",
			c.Audio.FrameSamples, frameMs)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ReconnectDelay returns the reconnect pause as a duration.
func (c BackendConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOICEWIRE_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("VOICEWIRE_SESSION_ID"); v != "" {
		cfg.Session.ID = v
	}
	if v := os.Getenv("VOICEWIRE_PERSONA"); v != "" {
		cfg.Session.Persona = v
	}
	if v := os.Getenv("VOICEWIRE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VOICEWIRE_RECONNECT_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.ReconnectDelaySeconds = n
		}
	}
}

func defaultConfigPath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "voicewire")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "voicewire")
	} else {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
