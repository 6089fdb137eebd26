package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "PlantMonitor" {
		t.Errorf("Device.Name = %q, want PlantMonitor", cfg.Device.Name)
	}
	if cfg.BLE.Transport != "serial" {
		t.Errorf("BLE.Transport = %q, want serial", cfg.BLE.Transport)
	}
	if cfg.BLE.QueueSize != 5 || cfg.BLE.MTU != 20 {
		t.Errorf("BLE queue/mtu = %d/%d, want 5/20", cfg.BLE.QueueSize, cfg.BLE.MTU)
	}
	if cfg.WiFi.TestTimeout != 15 || cfg.WiFi.ConnectTimeout != 30 {
		t.Errorf("WiFi timeouts = %d/%d, want 15/30", cfg.WiFi.TestTimeout, cfg.WiFi.ConnectTimeout)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.PublishInterval != 900 {
		t.Errorf("MQTT.PublishInterval = %d, want 900", cfg.MQTT.PublishInterval)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  name: "Greenhouse-3"
wifi:
  interface: "wlp2s0"
  test_timeout: 20
mqtt:
  broker:
    host: "broker.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Name != "Greenhouse-3" {
		t.Errorf("Device.Name = %q", cfg.Device.Name)
	}
	if cfg.WiFi.Interface != "wlp2s0" {
		t.Errorf("WiFi.Interface = %q", cfg.WiFi.Interface)
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	// Untouched keys keep their defaults.
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 8883", cfg.MQTT.Broker.Port)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("PLANTNODE_MQTT_HOST", "env-broker.example.com")
	t.Setenv("PLANTNODE_MQTT_PORT", "18883")
	t.Setenv("PLANTNODE_WIFI_INTERFACE", "wlan9")

	path := writeConfig(t, `
mqtt:
  broker:
    host: "file-broker.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "env-broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 18883 {
		t.Errorf("MQTT.Broker.Port = %d, want 18883", cfg.MQTT.Broker.Port)
	}
	if cfg.WiFi.Interface != "wlan9" {
		t.Errorf("WiFi.Interface = %q, want wlan9", cfg.WiFi.Interface)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file succeeded")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.BLE.Transport = "bluetooth" },
			wantErr: "ble.transport",
		},
		{
			name:    "zero queue",
			mutate:  func(c *Config) { c.BLE.QueueSize = 0 },
			wantErr: "ble.queue_size",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: "mqtt.broker.host",
		},
		{
			name:    "history enabled without url",
			mutate:  func(c *Config) { c.History.Enabled = true },
			wantErr: "history.url",
		},
		{
			name:    "zero test timeout",
			mutate:  func(c *Config) { c.WiFi.TestTimeout = 0 },
			wantErr: "wifi.test_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()
	if cfg.WiFiTestTimeout() != 15*time.Second {
		t.Errorf("WiFiTestTimeout() = %v", cfg.WiFiTestTimeout())
	}
	if cfg.WiFiConnectTimeout() != 30*time.Second {
		t.Errorf("WiFiConnectTimeout() = %v", cfg.WiFiConnectTimeout())
	}
	if cfg.PublishInterval() != 900*time.Second {
		t.Errorf("PublishInterval() = %v", cfg.PublishInterval())
	}
}
