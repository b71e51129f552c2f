package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Z-Wave.Me bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// HubConfig contains the Z-Wave.Me hub websocket settings.
type HubConfig struct {
	// URL is the hub websocket endpoint (e.g. "ws://192.168.1.20:8083").
	URL string `yaml:"url"`

	// Token is the bearer token sent in the Authorization header.
	// Set via ZWAVEME_HUB_TOKEN rather than in the file.
	Token string `yaml:"token"`

	// Platforms is the allow-list of hub deviceTypes accepted from a
	// device snapshot. Empty accepts every type.
	Platforms []string `yaml:"platforms"`

	// ReconnectDelay is the fixed pause between connection attempts (seconds).
	// Default: 5
	ReconnectDelay int `yaml:"reconnect_delay"`

	// ConnectTimeout bounds the initial wait for the socket to open (seconds).
	// Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`

	// UUIDTimeout bounds the wait for the hub uuid (seconds).
	// Default: 5
	UUIDTimeout int `yaml:"uuid_timeout"`

	// PingInterval is the websocket keepalive interval (seconds).
	// Default: 5
	PingInterval int `yaml:"ping_interval"`

	// PongTimeout is how long the socket may stay silent before it is
	// considered dead (seconds).
	// Default: 10
	PongTimeout int `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the device event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HealthConfig contains bridge health reporting settings.
type HealthConfig struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string `yaml:"bridge_id"`

	// Interval is how often health is published (seconds).
	// Default: 30
	Interval int `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZWAVEME_SECTION_KEY
// For example: ZWAVEME_HUB_URL, ZWAVEME_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			ReconnectDelay: 5,
			ConnectTimeout: 10,
			UUIDTimeout:    5,
			PingInterval:   5,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-zwaveme",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			BridgeID: "zwaveme",
			Interval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ZWAVEME_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("ZWAVEME_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("ZWAVEME_HUB_TOKEN"); v != "" {
		cfg.Hub.Token = v
	}

	// MQTT
	if v := os.Getenv("ZWAVEME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ZWAVEME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ZWAVEME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ZWAVEME_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ZWAVEME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.URL == "" {
		errs = append(errs, "hub.url is required (set ZWAVEME_HUB_URL environment variable)")
	} else if u, err := url.Parse(c.Hub.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "hub.url must be a ws:// or wss:// URL")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set ZWAVEME_HUB_TOKEN environment variable)")
	}
	if c.Hub.ReconnectDelay < 0 || c.Hub.ConnectTimeout < 0 || c.Hub.UUIDTimeout < 0 || c.Hub.PingInterval < 0 || c.Hub.PongTimeout < 0 {
		errs = append(errs, "hub timings must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.MaxMessageSize <= 0 || c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0) {
		errs = append(errs, "api.websocket settings must be positive")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReconnectDelay returns the hub reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Hub.ReconnectDelay) * time.Second
}

// GetConnectTimeout returns the hub connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Hub.ConnectTimeout) * time.Second
}

// GetUUIDTimeout returns the hub uuid wait timeout as a Duration.
func (c *Config) GetUUIDTimeout() time.Duration {
	return time.Duration(c.Hub.UUIDTimeout) * time.Second
}

// GetPingInterval returns the websocket ping interval as a Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.Hub.PingInterval) * time.Second
}

// GetPongTimeout returns the websocket read deadline as a Duration.
func (c *Config) GetPongTimeout() time.Duration {
	return time.Duration(c.Hub.PongTimeout) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
