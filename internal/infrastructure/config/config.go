package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the PlantNode daemon.
// All configuration is loaded from YAML and can be overridden by environment
// variables (PLANTNODE_SECTION_KEY).
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Database DatabaseConfig `yaml:"database"`
	BLE      BLEConfig      `yaml:"ble"`
	WiFi     WiFiConfig     `yaml:"wifi"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	History  HistoryConfig  `yaml:"history"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig contains device identity settings.
type DeviceConfig struct {
	// Name is the advertised BLE device name shown to the companion app.
	Name string `yaml:"name"`

	// DefaultID is the device id used before provisioning assigns one.
	DefaultID int `yaml:"default_id"`
}

// DatabaseConfig contains SQLite database settings for the config store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BLEConfig contains settings for the BLE-UART provisioning link.
type BLEConfig struct {
	// Transport selects the link implementation: "serial" for the BLE-UART
	// co-processor, "ws" for the development websocket bridge.
	Transport string `yaml:"transport"`

	Serial BLESerialConfig `yaml:"serial"`
	WS     BLEWSConfig     `yaml:"ws"`

	// QueueSize is the inbound message queue capacity. Messages arriving
	// while the queue is full are dropped, never blocking the receiver.
	QueueSize int `yaml:"queue_size"`

	// MTU is the chunk size for chunked sends (bytes per BLE notification).
	MTU int `yaml:"mtu"`
}

// BLESerialConfig contains serial port settings for the BLE co-processor.
type BLESerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// BLEWSConfig contains listen settings for the development websocket bridge.
type BLEWSConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WiFiConfig contains WiFi management settings.
type WiFiConfig struct {
	// Interface is the wireless interface managed through the system
	// network manager (nmcli).
	Interface string `yaml:"interface"`

	// ConnectTimeout bounds a normal connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// TestTimeout bounds a credential test during provisioning (seconds).
	TestTimeout int `yaml:"test_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker          MQTTBrokerConfig `yaml:"broker"`
	Auth            MQTTAuthConfig   `yaml:"auth"`
	QoS             int              `yaml:"qos"`
	PublishInterval int              `yaml:"publish_interval"` // seconds
	MaxInitRetries  int              `yaml:"max_init_retries"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// The broker is always reached over TLS; CAFile may point at a custom root
// certificate, otherwise the system pool is used.
type MQTTBrokerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	CAFile string `yaml:"ca_file"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HistoryConfig contains settings for the optional local telemetry mirror.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// APIConfig contains settings for the local diagnostics HTTP endpoint.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PLANTNODE_SECTION_KEY
// For example: PLANTNODE_DATABASE_PATH, PLANTNODE_MQTT_HOST
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
		Device: DeviceConfig{
			Name:      "PlantMonitor",
			DefaultID: 1,
		},
		Database: DatabaseConfig{
			Path:        "./data/plantnode.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		BLE: BLEConfig{
			Transport: "serial",
			Serial: BLESerialConfig{
				Port:     "/dev/ttyS1",
				BaudRate: 115200,
			},
			WS: BLEWSConfig{
				Host: "127.0.0.1",
				Port: 8181,
			},
			QueueSize: 5,
			MTU:       20,
		},
		WiFi: WiFiConfig{
			Interface:      "wlan0",
			ConnectTimeout: 30,
			TestTimeout:    15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
			},
			QoS:             1,
			PublishInterval: 900,
			MaxInitRetries:  3,
		},
		History: HistoryConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PLANTNODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PLANTNODE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// BLE
	if v := os.Getenv("PLANTNODE_BLE_SERIAL_PORT"); v != "" {
		cfg.BLE.Serial.Port = v
	}

	// WiFi
	if v := os.Getenv("PLANTNODE_WIFI_INTERFACE"); v != "" {
		cfg.WiFi.Interface = v
	}

	// MQTT
	if v := os.Getenv("PLANTNODE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PLANTNODE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("PLANTNODE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PLANTNODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// History
	if v := os.Getenv("PLANTNODE_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.BLE.Transport {
	case "serial", "ws":
	default:
		errs = append(errs, `ble.transport must be "serial" or "ws"`)
	}
	if c.BLE.QueueSize < 1 {
		errs = append(errs, "ble.queue_size must be at least 1")
	}
	if c.BLE.MTU < 1 {
		errs = append(errs, "ble.mtu must be at least 1")
	}

	if c.WiFi.Interface == "" {
		errs = append(errs, "wifi.interface is required")
	}
	if c.WiFi.TestTimeout < 1 {
		errs = append(errs, "wifi.test_timeout must be at least 1 second")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.MaxInitRetries < 1 {
		errs = append(errs, "mqtt.max_init_retries must be at least 1")
	}

	if c.History.Enabled && c.History.URL == "" {
		errs = append(errs, "history.url is required when history is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// WiFiTestTimeout returns the provisioning WiFi test timeout as a Duration.
func (c *Config) WiFiTestTimeout() time.Duration {
	return time.Duration(c.WiFi.TestTimeout) * time.Second
}

// WiFiConnectTimeout returns the normal WiFi connect timeout as a Duration.
func (c *Config) WiFiConnectTimeout() time.Duration {
	return time.Duration(c.WiFi.ConnectTimeout) * time.Second
}

// PublishInterval returns the telemetry publish interval as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.MQTT.PublishInterval) * time.Second
}
