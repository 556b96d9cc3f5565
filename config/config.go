// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

// Package config holds the realtime SDK configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the realtime client.
type Config struct {
	Broker   BrokerConfig   `yaml:"broker"`
	Call     CallConfig     `yaml:"call"`
	Presence PresenceConfig `yaml:"presence"`
	Log      LogConfig      `yaml:"log"`
}

// BrokerConfig holds transport-level settings.
type BrokerConfig struct {
	URL            string        `yaml:"url"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	// Fixed-interval reconnect policy. Background builds should lower
	// max_reconnect_attempts to fail fast.
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`

	// AllowAnonymous permits connections without a bearer token.
	// Local development only; never enable against a shared broker.
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// CallConfig holds call signaling timeouts.
type CallConfig struct {
	// RingTimeout bounds how long an outgoing call rings before it is
	// cancelled with reason no_answer.
	RingTimeout time.Duration `yaml:"ring_timeout"`
	// ReconnectTimeout bounds how long a degraded call may sit in
	// reconnecting before it ends with reason network_error.
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
}

// PresenceConfig holds presence and typing settings.
type PresenceConfig struct {
	// TypingInterval throttles outbound typing indicators per channel.
	TypingInterval time.Duration `yaml:"typing_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:                  "tcp://localhost:1883",
			ClientIDPrefix:       "faithflow",
			KeepAlive:            60 * time.Second,
			ConnectTimeout:       10 * time.Second,
			PublishTimeout:       5 * time.Second,
			ReconnectInterval:    3 * time.Second,
			MaxReconnectAttempts: 10,
			AllowAnonymous:       false,
		},
		Call: CallConfig{
			RingTimeout:      45 * time.Second,
			ReconnectTimeout: 15 * time.Second,
		},
		Presence: PresenceConfig{
			TypingInterval: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url cannot be empty")
	}
	if c.Broker.MaxReconnectAttempts < 1 {
		return fmt.Errorf("broker.max_reconnect_attempts must be at least 1")
	}
	if c.Broker.ReconnectInterval <= 0 {
		return fmt.Errorf("broker.reconnect_interval must be positive")
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("call.ring_timeout must be positive")
	}
	if c.Call.ReconnectTimeout <= 0 {
		return fmt.Errorf("call.reconnect_timeout must be positive")
	}
	if c.Presence.TypingInterval <= 0 {
		return fmt.Errorf("presence.typing_interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}
