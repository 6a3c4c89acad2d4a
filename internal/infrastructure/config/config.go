package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MusicCast bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Listener  ListenerConfig  `yaml:"listener"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	MusicCast MusicCastConfig `yaml:"musiccast"`
}

// GatewayConfig contains gateway identity settings.
type GatewayConfig struct {
	// ID identifies this bridge instance in MQTT payloads and logs.
	ID string `yaml:"id"`

	// TopologyFile is the path to the static system topology (feed wiring,
	// non-MusicCast devices). Empty disables feed resolution.
	TopologyFile string `yaml:"topology_file"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains the state-stream WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ListenerConfig contains the UDP event listener settings.
//
// MusicCast devices send asynchronous state-change events as UDP unicast
// datagrams to the port advertised in the X-AppPort request header.
type ListenerConfig struct {
	Port       int `yaml:"port"`
	BufferSize int `yaml:"buffer_size"`
}

// DiscoveryConfig contains SSDP discovery settings.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// CycleSeconds is the maximum time between two SSDP searches.
	CycleSeconds int `yaml:"cycle_seconds"`

	// MX is the SSDP search MX value (1-5); responses are collected for
	// 2×MX seconds.
	MX int `yaml:"mx"`
}

// MusicCastConfig contains device protocol timing settings.
//
// Defaults match observed Yamaha firmware behaviour; override with care.
type MusicCastConfig struct {
	// RequestLagMillis is the minimum interval between two HTTP requests
	// to the same device.
	RequestLagMillis int `yaml:"request_lag_millis"`

	// HTTPTimeoutSeconds is the per-request HTTP timeout.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	// BufferLagSeconds is the settle delay between a state-changing command
	// and the confirming status refresh.
	BufferLagSeconds int `yaml:"buffer_lag_seconds"`

	// StaleConnectionSeconds is the keepalive interval; the firmware stops
	// sending events to a subscriber it has not heard from for ~10 minutes.
	StaleConnectionSeconds int `yaml:"stale_connection_seconds"`

	// QueueSize bounds each device actor's task queue.
	QueueSize int `yaml:"queue_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MUSICCAST_SECTION_KEY
// For example: MUSICCAST_MQTT_HOST, MUSICCAST_API_HOST
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
		Gateway: GatewayConfig{
			ID: "musiccast-bridge",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "musiccast-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8086,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Listener: ListenerConfig{
			Port:       41100,
			BufferSize: 4096,
		},
		Discovery: DiscoveryConfig{
			Enabled:      true,
			CycleSeconds: 600,
			MX:           3,
		},
		MusicCast: MusicCastConfig{
			RequestLagMillis:       500,
			HTTPTimeoutSeconds:     1,
			BufferLagSeconds:       5,
			StaleConnectionSeconds: 300,
			QueueSize:              10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MUSICCAST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MUSICCAST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MUSICCAST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MUSICCAST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MUSICCAST_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MUSICCAST_TOPOLOGY_FILE"); v != "" {
		cfg.Gateway.TopologyFile = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Listener.Port < 1 || c.Listener.Port > 65535 {
		errs = append(errs, "listener.port must be between 1 and 65535")
	}

	if c.Discovery.MX < 1 || c.Discovery.MX > 5 {
		errs = append(errs, "discovery.mx must be between 1 and 5")
	}

	if c.MusicCast.QueueSize < 1 {
		errs = append(errs, "musiccast.queue_size must be at least 1")
	}
	if c.MusicCast.StaleConnectionSeconds < 1 {
		errs = append(errs, "musiccast.stale_connection_seconds must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// RequestLag returns the minimum inter-request interval as a Duration.
func (c *MusicCastConfig) RequestLag() time.Duration {
	return time.Duration(c.RequestLagMillis) * time.Millisecond
}

// HTTPTimeout returns the per-request HTTP timeout as a Duration.
func (c *MusicCastConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// BufferLag returns the settle delay as a Duration.
func (c *MusicCastConfig) BufferLag() time.Duration {
	return time.Duration(c.BufferLagSeconds) * time.Second
}

// StaleConnection returns the keepalive interval as a Duration.
func (c *MusicCastConfig) StaleConnection() time.Duration {
	return time.Duration(c.StaleConnectionSeconds) * time.Second
}

// Cycle returns the discovery cycle as a Duration.
func (c *DiscoveryConfig) Cycle() time.Duration {
	return time.Duration(c.CycleSeconds) * time.Second
}
