// Package config loads wabridge settings from a YAML file, a .env file and
// WABRIDGE_* environment variables, in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WABRIDGE_"

type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Recovery RecoveryConfig `yaml:"recovery" envPrefix:"RECOVERY_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" envPrefix:"WHATSAPP_"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" env:"HOST"`
	Port           int      `yaml:"port" env:"PORT"`
	PublicDir      string   `yaml:"public_dir" env:"PUBLIC_DIR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// SessionConfig locates the on-disk login state.
type SessionConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

// DBPath is the SQLite file holding the paired device.
func (s SessionConfig) DBPath() string {
	return filepath.Join(s.Dir, "whatsapp.db")
}

// RecoveryConfig drives the teardown/restart cycle.
type RecoveryConfig struct {
	Delay         time.Duration `yaml:"delay" env:"DELAY"`
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	LockedMarkers []string      `yaml:"locked_markers" env:"LOCKED_MARKERS" envSeparator:","`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	// File is recreated on every start; empty disables the mirror.
	File string `yaml:"file" env:"FILE"`
}

type WhatsAppConfig struct {
	// DeviceName is shown under "Linked devices" on the phone.
	DeviceName string `yaml:"device_name" env:"DEVICE_NAME"`
	// PrintQR renders pairing codes on the terminal.
	PrintQR bool `yaml:"print_qr" env:"PRINT_QR"`
	// DebugProtocol forwards whatsmeow's own debug logs.
	DebugProtocol bool `yaml:"debug_protocol" env:"DEBUG_PROTOCOL"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			PublicDir:      "public",
			AllowedOrigins: []string{"*"},
		},
		Session: SessionConfig{
			Dir: "session",
		},
		Recovery: RecoveryConfig{
			Delay:         3 * time.Second,
			MaxAttempts:   3,
			BackoffFactor: 2,
			MaxDelay:      30 * time.Second,
			LockedMarkers: []string{"EBUSY", "database is locked", "SQLITE_BUSY"},
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join("session", "wabridge.log"),
		},
		WhatsApp: WhatsAppConfig{
			DeviceName: "wabridge",
			PrintQR:    true,
		},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
// A .env file in the working directory, when present, is loaded into the
// process environment before env overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	def := DefaultConfig()
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = def.Server.AllowedOrigins
	}
	if c.Session.Dir == "" {
		c.Session.Dir = def.Session.Dir
	}
	if c.Recovery.Delay <= 0 {
		c.Recovery.Delay = def.Recovery.Delay
	}
	if c.Recovery.MaxAttempts <= 0 {
		c.Recovery.MaxAttempts = 1
	}
	if c.Recovery.BackoffFactor < 1 {
		c.Recovery.BackoffFactor = 1
	}
	if c.Recovery.MaxDelay < c.Recovery.Delay {
		c.Recovery.MaxDelay = c.Recovery.Delay
	}
	if c.WhatsApp.DeviceName == "" {
		c.WhatsApp.DeviceName = def.WhatsApp.DeviceName
	}
}

// Validate reports settings that cannot be normalized into something usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	for _, m := range c.Recovery.LockedMarkers {
		if strings.TrimSpace(m) == "" {
			return errors.New("recovery.locked_markers must not contain empty entries")
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
