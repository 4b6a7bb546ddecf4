// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the broker's tunable defaults. Every field mirrors a
// constant named in spec section 4.
type Config struct {
	// ListenAddress is the TCP address the broker binds. Default
	// ":8765" (spec section 6: "default port 8765").
	ListenAddress string `yaml:"listen_address"`

	// MaxClarificationQueue bounds each consumer's pending
	// clarification queue. Default 10.
	MaxClarificationQueue int `yaml:"max_clarification_queue"`

	// YapBufferCapacity bounds each consumer's reorder buffer. Default
	// 50; oldest entries are dropped past this cap.
	YapBufferCapacity int `yaml:"yap_buffer_capacity"`

	// YapBufferFlush is how long a yap sits in the reorder buffer
	// before an atomic, timestamp-sorted flush. Default 200ms.
	YapBufferFlush time.Duration `yaml:"yap_buffer_flush"`

	// HeartbeatInterval is how often clients send heartbeats and the
	// monitor sweeps for stale sessions. Default 5s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ClientTimeout is how long a session may go without a received
	// envelope before the monitor declares it stale. Default 15s.
	ClientTimeout time.Duration `yaml:"client_timeout"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		ListenAddress:         ":8765",
		MaxClarificationQueue: 10,
		YapBufferCapacity:     50,
		YapBufferFlush:        200 * time.Millisecond,
		HeartbeatInterval:     5 * time.Second,
		ClientTimeout:         15 * time.Second,
	}
}

// Load reads the file named by the RELAYBROKER_CONFIG environment
// variable and merges it over [Default]. Returns [Default] unchanged
// if the variable is unset — this is the normal case for a broker run
// with no overrides, not an error.
func Load() (Config, error) {
	path := os.Getenv("RELAYBROKER_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads a specific YAML file and merges it over [Default].
// Fields absent from the file keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config from %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make the broker
// misbehave rather than merely disagree with the defaults.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address must not be empty")
	}
	if c.MaxClarificationQueue <= 0 {
		return fmt.Errorf("max_clarification_queue must be positive, got %d", c.MaxClarificationQueue)
	}
	if c.YapBufferCapacity <= 0 {
		return fmt.Errorf("yap_buffer_capacity must be positive, got %d", c.YapBufferCapacity)
	}
	if c.YapBufferFlush <= 0 {
		return fmt.Errorf("yap_buffer_flush must be positive, got %s", c.YapBufferFlush)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.ClientTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("client_timeout (%s) must exceed heartbeat_interval (%s)", c.ClientTimeout, c.HeartbeatInterval)
	}
	return nil
}
