// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the daemon.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hjson/hjson-go/v4"
)

// Config is the root configuration structure for the daemon.
type Config struct {
	Server     ServerConfig     `json:"server"`
	DataDir    string           `json:"data_dir"`
	ControlSocket ControlSocketConfig `json:"control_socket"`
	Buffer     BufferConfig     `json:"buffer"`
	Keepalive  KeepaliveConfig  `json:"keepalive"`
	Logging    LoggingConfig    `json:"logging"`
	MachineName string          `json:"machine_name"`
	Announce   AnnounceConfig   `json:"announce"`
}

// ServerConfig configures the public peer-facing listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ControlSocketConfig configures the local control-plane unix socket.
type ControlSocketConfig struct {
	Path string `json:"path"`
}

// BufferConfig configures the in-memory replay buffer.
type BufferConfig struct {
	MaxBytes int `json:"max_bytes"`
}

// KeepaliveConfig configures the public listener's ping/pong keepalive.
type KeepaliveConfig struct {
	PingInterval string `json:"ping_interval"`
	PongTimeout  string `json:"pong_timeout"`
}

// LoggingConfig configures the daemon's own log output.
type LoggingConfig struct {
	Level string `json:"level"`
}

// AnnounceConfig configures mDNS service announcement.
type AnnounceConfig struct {
	Enabled bool `json:"enabled"`
}

// PingInterval parses Keepalive.PingInterval, defaulting to 30s.
func (c *Config) PingInterval() time.Duration {
	return parseDurationOr(c.Keepalive.PingInterval, 30*time.Second)
}

// PongTimeout parses Keepalive.PongTimeout, defaulting to 60s.
func (c *Config) PongTimeout() time.Duration {
	return parseDurationOr(c.Keepalive.PongTimeout, 60*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for wormhole.hjson then wormhole.json in the
// current directory.
func (l *Loader) FindConfig() (string, error) {
	for _, name := range []string{"wormhole.hjson", "wormhole.json"} {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("config file not found (looked for wormhole.hjson, wormhole.json)")
}

// Default returns a Config with every default applied and no file backing
// it, for use when no config file is found.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7117
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".wormhole")
		} else {
			cfg.DataDir = ".wormhole"
		}
	}
	if cfg.ControlSocket.Path == "" {
		cfg.ControlSocket.Path = defaultControlSocketPath()
	}
	if cfg.Buffer.MaxBytes == 0 {
		cfg.Buffer.MaxBytes = 2 * 1024 * 1024
	}
	if cfg.Keepalive.PingInterval == "" {
		cfg.Keepalive.PingInterval = "30s"
	}
	if cfg.Keepalive.PongTimeout == "" {
		cfg.Keepalive.PongTimeout = "60s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.MachineName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MachineName = host
		} else {
			cfg.MachineName = "wormhole"
		}
	}
}

func defaultControlSocketPath() string {
	uid := os.Getuid()
	return filepath.Join(os.TempDir(), fmt.Sprintf("wormhole-%d.sock", uid))
}

// DefaultControlSocketPath returns the per-user control socket path used
// when neither a config file nor an explicit override names one. Exported
// so clients (e.g. wormhole-ctl) can find the daemon without parsing its
// config file.
func DefaultControlSocketPath() string {
	return defaultControlSocketPath()
}
