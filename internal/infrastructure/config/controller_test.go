package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadController_ValidConfig(t *testing.T) {
	content := `
door_id: "front-door"
sensor:
  device: "/dev/ttyUSB0"
  settle_ms: 80
  budget_ms: 600
validator:
  base_url: "http://latchline:8080"
source:
  mode: "http"
  http_port: 8090
actuation:
  unlock_seconds: 5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "doorlinkd.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadController(configPath)
	if err != nil {
		t.Fatalf("LoadController() error = %v", err)
	}

	if cfg.DoorID != "front-door" {
		t.Errorf("DoorID = %q, want %q", cfg.DoorID, "front-door")
	}
	if cfg.Sensor.Device != "/dev/ttyUSB0" {
		t.Errorf("Sensor.Device = %q, want %q", cfg.Sensor.Device, "/dev/ttyUSB0")
	}
	if got := cfg.Sensor.Budget(); got != 600*time.Millisecond {
		t.Errorf("Sensor.Budget() = %v, want 600ms", got)
	}
	if got := cfg.Actuation.UnlockDwell(); got != 5*time.Second {
		t.Errorf("Actuation.UnlockDwell() = %v, want 5s", got)
	}

	// Deny cooldown falls back to the default.
	if got := cfg.Actuation.DenyCooldown(); got != 2*time.Second {
		t.Errorf("Actuation.DenyCooldown() = %v, want 2s", got)
	}
}

func TestLoadController_MissingDoorID(t *testing.T) {
	content := `
sensor:
  device: "/dev/ttyAMA0"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "doorlinkd.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadController(configPath)
	if err == nil {
		t.Error("LoadController() expected validation error for missing door_id, got nil")
	}
}

func TestControllerConfig_Validate(t *testing.T) {
	valid := func() *ControllerConfig {
		cfg := defaultControllerConfig()
		cfg.DoorID = "door-01"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*ControllerConfig)
		wantErr bool
	}{
		{
			name:    "valid mqtt mode",
			mutate:  func(_ *ControllerConfig) {},
			wantErr: false,
		},
		{
			name: "valid http mode with base url",
			mutate: func(c *ControllerConfig) {
				c.Source.Mode = "http"
				c.Validator.BaseURL = "http://latchline:8080"
			},
			wantErr: false,
		},
		{
			name: "http mode without base url",
			mutate: func(c *ControllerConfig) {
				c.Source.Mode = "http"
				c.Validator.BaseURL = ""
			},
			wantErr: true,
		},
		{
			name: "unknown source mode",
			mutate: func(c *ControllerConfig) {
				c.Source.Mode = "carrier-pigeon"
			},
			wantErr: true,
		},
		{
			name: "zero read budget",
			mutate: func(c *ControllerConfig) {
				c.Sensor.BudgetMs = 0
			},
			wantErr: true,
		},
		{
			name: "zero unlock dwell",
			mutate: func(c *ControllerConfig) {
				c.Actuation.UnlockSeconds = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyControllerEnvOverrides(t *testing.T) {
	cfg := defaultControllerConfig()

	t.Setenv("LATCHLINE_DOOR_ID", "rear-door")
	t.Setenv("LATCHLINE_SENSOR_DEVICE", "/dev/ttyS1")
	t.Setenv("LATCHLINE_VALIDATOR_URL", "http://10.0.0.5:8080")
	t.Setenv("LATCHLINE_MQTT_HOST", "broker.local")

	applyControllerEnvOverrides(cfg)

	if cfg.DoorID != "rear-door" {
		t.Errorf("DoorID = %q, want %q", cfg.DoorID, "rear-door")
	}
	if cfg.Sensor.Device != "/dev/ttyS1" {
		t.Errorf("Sensor.Device = %q, want %q", cfg.Sensor.Device, "/dev/ttyS1")
	}
	if cfg.Validator.BaseURL != "http://10.0.0.5:8080" {
		t.Errorf("Validator.BaseURL = %q, want %q", cfg.Validator.BaseURL, "http://10.0.0.5:8080")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
}
