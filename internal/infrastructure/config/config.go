package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for pip-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Devices   DevicesConfig   `yaml:"devices"`
	Firmware  FirmwareConfig  `yaml:"firmware"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings shared by the device and browser sockets.
type WebSocketConfig struct {
	DevicePath     string `yaml:"device_path"`
	BrowserPath    string `yaml:"browser_path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DevicesConfig contains device session coordination settings.
type DevicesConfig struct {
	// PingInterval is the liveness probe period for device sockets (seconds).
	PingInterval int `yaml:"ping_interval"`

	// ReconnectWindow is how long a device remembers its last online owner
	// after they stop interacting with it (minutes).
	ReconnectWindow int `yaml:"reconnect_window"`

	// WriteTimeout bounds a single frame write to a device (seconds).
	WriteTimeout int `yaml:"write_timeout"`

	// BroadcastConcurrency bounds the number of concurrent sends when a
	// payload is fanned out to every online device.
	BroadcastConcurrency int `yaml:"broadcast_concurrency"`
}

// FirmwareConfig contains firmware cache settings.
type FirmwareConfig struct {
	// WebhookSecret authenticates the publish webhook (X-Webhook-Secret header).
	WebhookSecret string `yaml:"webhook_secret"`

	// RefreshAttempts is the number of fetch attempts per refresh.
	RefreshAttempts int `yaml:"refresh_attempts"`

	// RefreshDelay is the delay between fetch attempts (milliseconds).
	RefreshDelay int `yaml:"refresh_delay"`

	// ChunkSize is the maximum firmware bytes carried by one device frame.
	ChunkSize int `yaml:"chunk_size"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AdminSecret guards the operator endpoints. Empty disables them.
	AdminSecret string `yaml:"admin_secret"`
}

// JWTConfig contains JWT verification settings. Tokens are issued by the
// platform's account service; pip-core only verifies them.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PIPCORE_SECTION_KEY
// For example: PIPCORE_DATABASE_PATH, PIPCORE_API_PORT
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
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			DevicePath:     "/ws/device",
			BrowserPath:    "/ws/browser",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Devices: DevicesConfig{
			PingInterval:         30,
			ReconnectWindow:      90,
			WriteTimeout:         10,
			BroadcastConcurrency: 16,
		},
		Firmware: FirmwareConfig{
			RefreshAttempts: 3,
			RefreshDelay:    500,
			ChunkSize:       4096,
		},
		Database: DatabaseConfig{
			Path:        "./data/pipcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pipcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIPCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PIPCORE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PIPCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PIPCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PIPCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PIPCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PIPCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PIPCORE_FIRMWARE_WEBHOOK_SECRET"); v != "" {
		cfg.Firmware.WebhookSecret = v
	}

	if v := os.Getenv("PIPCORE_ADMIN_SECRET"); v != "" {
		cfg.Security.AdminSecret = v
	}

	// Always override in production.
	if v := os.Getenv("PIPCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.DevicePath == "" || c.WebSocket.BrowserPath == "" {
		errs = append(errs, "websocket.device_path and websocket.browser_path are required")
	} else if c.WebSocket.DevicePath == c.WebSocket.BrowserPath {
		errs = append(errs, "websocket.device_path and websocket.browser_path must differ")
	}

	if c.Devices.PingInterval <= 0 {
		errs = append(errs, "devices.ping_interval must be positive")
	}
	if c.Devices.ReconnectWindow <= 0 {
		errs = append(errs, "devices.reconnect_window must be positive")
	}
	if c.Devices.WriteTimeout <= 0 {
		errs = append(errs, "devices.write_timeout must be positive")
	}

	if c.Firmware.ChunkSize <= 0 {
		errs = append(errs, "firmware.chunk_size must be positive")
	}
	if c.Firmware.RefreshAttempts <= 0 {
		errs = append(errs, "firmware.refresh_attempts must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Browser sockets and controller calls are authorised by these tokens,
	// so a forgeable secret hands out control of every device.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PIPCORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.AdminSecret != "" && len(c.Security.AdminSecret) < minJWTSecretLength {
		errs = append(errs, "security.admin_secret must be at least 32 characters")
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

// DevicePingInterval returns the device liveness probe period.
func (c *Config) DevicePingInterval() time.Duration {
	return time.Duration(c.Devices.PingInterval) * time.Second
}

// DeviceWriteTimeout returns the per-frame device write deadline.
func (c *Config) DeviceWriteTimeout() time.Duration {
	return time.Duration(c.Devices.WriteTimeout) * time.Second
}

// ReconnectWindow returns how long a device remembers its last online owner.
func (c *Config) ReconnectWindow() time.Duration {
	return time.Duration(c.Devices.ReconnectWindow) * time.Minute
}

// FirmwareRefreshDelay returns the delay between firmware fetch attempts.
func (c *Config) FirmwareRefreshDelay() time.Duration {
	return time.Duration(c.Firmware.RefreshDelay) * time.Millisecond
}
