package models

// -----------------------------------------------------------------------------
// MConfig is the root configuration object for the fan-out server, loaded
// from JSON (see config.Config.Validate for the rules enforced on it).
// -----------------------------------------------------------------------------

type MConfig struct {
	WebsocketPort       int                 `json:"websocket_port"`
	RedisHost           string              `json:"redis_host"`
	RedisPort           int                 `json:"redis_port"`
	LoadBalanceStrategy string              `json:"load_balance_strategy"`
	HealthCheckInterval int                 `json:"health_check_interval"`
	MaintenanceInterval int                 `json:"maintenance_interval"`
	MaxRetryCount       int                 `json:"max_retry_count"`
	AutoFailover        bool                `json:"auto_failover"`
	Connections         []MConnectionConfig `json:"connections"`
}

// -----------------------------------------------------------------------------

// MConnectionConfig describes a single upstream broker-front connection.
type MConnectionConfig struct {
	ConnectionID     string `json:"connection_id"`
	FrontAddr        string `json:"front_addr"`
	BrokerID         string `json:"broker_id"`
	MaxSubscriptions int    `json:"max_subscriptions"`
	Priority         int    `json:"priority"`
	Enabled          bool   `json:"enabled"`
}

// -----------------------------------------------------------------------------

// DefaultConfig is used when no config file is supplied on the command line.
func DefaultConfig() *MConfig {
	return &MConfig{
		WebsocketPort:       7799,
		RedisHost:           "127.0.0.1",
		RedisPort:           6379,
		LoadBalanceStrategy: "connection_quality",
		HealthCheckInterval: 30,
		MaintenanceInterval: 60,
		MaxRetryCount:       3,
		AutoFailover:        true,
		Connections: []MConnectionConfig{
			{
				ConnectionID:     "ctp-1",
				FrontAddr:        "tcp://127.0.0.1:20004",
				BrokerID:         "9999",
				MaxSubscriptions: 500,
				Priority:         1,
				Enabled:          true,
			},
		},
	}
}
