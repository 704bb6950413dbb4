package config

import (
	"encoding/json"
	"fmt"
	"os"

	"market-observer/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods.
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads configuration from a JSON file, per spec §6.
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	var mc models.MConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("failed to parse config from JSON: %w", err)
	}

	cfg := &Config{MConfig: &mc}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------

// NewDefaultConfig returns the built-in defaults, already validated.
func NewDefaultConfig() *Config {
	cfg := &Config{MConfig: models.DefaultConfig()}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("built-in default config is invalid: %v", err))
	}
	return cfg
}

// -----------------------------------------------------------------------------

// Validate enforces every rule spec §6 names.
func (c *Config) Validate() error {
	if c.WebsocketPort <= 0 || c.WebsocketPort > 65535 {
		return fmt.Errorf("invalid websocket_port: %d (must be in (0, 65535])", c.WebsocketPort)
	}

	if len(c.Connections) == 0 {
		return fmt.Errorf("at least one connection must be configured")
	}

	seen := make(map[string]struct{}, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.ConnectionID == "" {
			return fmt.Errorf("connection %d has an empty connection_id", i)
		}
		if _, dup := seen[conn.ConnectionID]; dup {
			return fmt.Errorf("duplicate connection_id: %s", conn.ConnectionID)
		}
		seen[conn.ConnectionID] = struct{}{}

		if conn.FrontAddr == "" {
			return fmt.Errorf("connection %s has an empty front_addr", conn.ConnectionID)
		}
		if conn.BrokerID == "" {
			return fmt.Errorf("connection %s has an empty broker_id", conn.ConnectionID)
		}
		if conn.MaxSubscriptions <= 0 {
			return fmt.Errorf("connection %s must have max_subscriptions > 0", conn.ConnectionID)
		}
	}

	switch c.LoadBalanceStrategy {
	case "", string(models.StrategyRoundRobin), string(models.StrategyLeastConnections),
		string(models.StrategyConnectionQuality), string(models.StrategyHashBased):
	default:
		return fmt.Errorf("unknown load_balance_strategy: %s", c.LoadBalanceStrategy)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists a human-editable snapshot of the configuration as YAML,
// used by the admin surface when a connection is added at runtime. JSON remains the canonical load format (spec §6); YAML is kept
// for the operator-facing snapshot the way the teacher's Config.Save does.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config snapshot to '%s': %w", configPath, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Strategy returns the effective load-balancing strategy, defaulting to
// connection_quality when unset.
func (c *Config) Strategy() models.LoadBalanceStrategy {
	if c.LoadBalanceStrategy == "" {
		return models.StrategyConnectionQuality
	}
	return models.LoadBalanceStrategy(c.LoadBalanceStrategy)
}
