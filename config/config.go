package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration for one robot bridge.
type Config struct {
	RobotID      string `yaml:"robot_id"`
	SiteID       string `yaml:"site_id"`
	DatabasePath string `yaml:"database_path"`

	Vendor    VendorConfig    `yaml:"vendor"`
	Session   SessionConfig   `yaml:"session"`
	Mission   MissionConfig   `yaml:"mission"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Health    HealthConfig    `yaml:"health"`
	Messaging MessagingConfig `yaml:"messaging"`
	Web       WebConfig       `yaml:"web"`
}

// VendorConfig defines the robot vendor API connection.
type VendorConfig struct {
	Family            string        `yaml:"family"` // adapter family, currently "rest"
	BaseURL           string        `yaml:"base_url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	TelemetryPollRate time.Duration `yaml:"telemetry_poll_rate"`
	MissionPollRate   time.Duration `yaml:"mission_poll_rate"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	StreamEnabled     bool          `yaml:"stream_enabled"`
}

// SessionConfig defines reconnect backoff behavior.
type SessionConfig struct {
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
}

// MissionConfig defines mission tracking behavior.
type MissionConfig struct {
	StaleAfter       time.Duration `yaml:"stale_after"`
	RetentionHorizon time.Duration `yaml:"retention_horizon"`
	PruneInterval    time.Duration `yaml:"prune_interval"`
}

// DispatchConfig defines command dispatch behavior.
type DispatchConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	// IdempotentVendorIDs permits retry-with-same-id for destructive
	// commands when the vendor deduplicates by command ID.
	IdempotentVendorIDs bool `yaml:"idempotent_vendor_ids"`
}

// HealthConfig defines unhealthy-exit thresholds.
type HealthConfig struct {
	CheckInterval       time.Duration `yaml:"check_interval"`
	PublishWindow       int           `yaml:"publish_window"`
	MaxPublishFailures  int           `yaml:"max_publish_failures"`
	PollStaleAfter      time.Duration `yaml:"poll_stale_after"`
	SustainFor          time.Duration `yaml:"sustain_for"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
}

// MessagingConfig defines the platform messaging backend.
type MessagingConfig struct {
	Backend     string      `yaml:"backend"` // "mqtt" or "kafka"
	MQTT        MQTTConfig  `yaml:"mqtt"`
	Kafka       KafkaConfig `yaml:"kafka"`
	DataTopic   string      `yaml:"data_topic"`
	ActionTopic string      `yaml:"action_topic"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// WebConfig defines the local diagnostics HTTP server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		RobotID:      "robot-1",
		SiteID:       "site-1",
		DatabasePath: "fleetbridge.db",
		Vendor: VendorConfig{
			Family:            "rest",
			BaseURL:           "http://localhost:8080/api/v2",
			TelemetryPollRate: time.Second,
			MissionPollRate:   2 * time.Second,
			RequestTimeout:    10 * time.Second,
			StreamEnabled:     true,
		},
		Session: SessionConfig{
			BackoffBase:   500 * time.Millisecond,
			BackoffFactor: 2.0,
			BackoffMax:    30 * time.Second,
		},
		Mission: MissionConfig{
			StaleAfter:       2 * time.Minute,
			RetentionHorizon: 24 * time.Hour,
			PruneInterval:    time.Hour,
		},
		Dispatch: DispatchConfig{
			CommandTimeout: 15 * time.Second,
		},
		Health: HealthConfig{
			CheckInterval:      10 * time.Second,
			PublishWindow:      20,
			MaxPublishFailures: 10,
			PollStaleAfter:     time.Minute,
			SustainFor:         time.Minute,
			HeartbeatInterval:  60 * time.Second,
		},
		Messaging: MessagingConfig{
			Backend:     "mqtt",
			DataTopic:   "fleet/data",
			ActionTopic: "fleet/actions",
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8091,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RobotID == "" {
		return fmt.Errorf("robot_id is required")
	}
	if c.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor.base_url is required")
	}
	switch c.Messaging.Backend {
	case "mqtt", "kafka":
	default:
		return fmt.Errorf("messaging.backend must be \"mqtt\" or \"kafka\", got %q", c.Messaging.Backend)
	}
	if c.Session.BackoffFactor < 1 {
		return fmt.Errorf("session.backoff_factor must be >= 1")
	}
	return nil
}

// ClientID returns the messaging client identity for this bridge.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "fleetbridge-" + c.RobotID
}
