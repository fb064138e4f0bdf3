// Package config loads the YAML configuration for the relay and agent
// binaries, and watches the config directory for change notifications.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig holds the relay server's configuration, per spec §7.
type RelayConfig struct {
	Listen  ListenConfig  `yaml:"listen"`
	TLS     TLSConfig     `yaml:"tls"`
	Domain  string        `yaml:"domain"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	Limits  LimitsConfig  `yaml:"limits"`
	Storage StorageConfig `yaml:"storage"`
}

// ListenConfig specifies the address the relay binds on.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// TLSConfig controls the relay's own TLS termination. Most deployments
// terminate TLS at a front proxy and leave this disabled (spec §7).
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TunnelConfig controls the control-channel path and timing (spec §4.5).
type TunnelConfig struct {
	Path           string        `yaml:"path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

// LimitsConfig controls ingress rate limiting (spec §4.6).
type LimitsConfig struct {
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

// StorageConfig points at the relay's SQLite database file.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// LoadRelayConfig reads and parses a relay configuration file, applying
// the spec's defaults for anything the file omits.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cfg := &RelayConfig{
		Listen: ListenConfig{Addr: ":8080"},
		Tunnel: TunnelConfig{
			Path:           "/_tunnel",
			RequestTimeout: 30 * time.Second,
			SendTimeout:    5 * time.Second,
		},
		Limits: LimitsConfig{
			RateLimitRequests: 100,
			RateLimitWindow:   60 * time.Second,
		},
		Storage: StorageConfig{DSN: "wirehole.db"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading relay config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing relay config: %w", err)
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("config: domain is required")
	}
	return cfg, nil
}
