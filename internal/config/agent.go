package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds the agent process's configuration, per spec §6.
type AgentConfig struct {
	RelayURL         string        `yaml:"relay_url"`
	APIKey           string        `yaml:"api_key"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxConsecutiveErrors int       `yaml:"max_consecutive_errors"`
}

// LoadAgentConfig reads and parses an agent configuration file, applying
// the spec's default intervals for anything the file omits.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{
		HeartbeatInterval:    30 * time.Second,
		PollInterval:         5 * time.Second,
		MaxConsecutiveErrors: 5,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing agent config: %w", err)
	}
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("config: relay_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: api_key is required")
	}
	return cfg, nil
}
