package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ControllerConfig is the root configuration for the doorlinkd daemon
// running on the door controller. It is intentionally smaller than the
// service Config: one door, one sensor, one lock.
type ControllerConfig struct {
	// DoorID identifies this door to the validation service.
	DoorID string `yaml:"door_id"`

	Sensor    SensorConfig    `yaml:"sensor"`
	Validator ValidatorConfig `yaml:"validator"`
	Source    SourceConfig    `yaml:"source"`
	Actuation ActuationConfig `yaml:"actuation"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SensorConfig contains rangefinder serial link settings.
type SensorConfig struct {
	// Device is the serial device path (e.g., /dev/ttyAMA0).
	Device string `yaml:"device"`

	// Baud is informational; the port must be configured externally
	// (stty or device tree) since the link is a plain byte stream.
	Baud int `yaml:"baud"`

	// SettleMs is the pause after flushing stale bytes before scanning.
	SettleMs int `yaml:"settle_ms"`

	// BudgetMs bounds one read attempt. Generous enough to survive
	// scheduler jitter while MQTT or HTTP traffic is in flight.
	BudgetMs int `yaml:"budget_ms"`
}

// ValidatorConfig contains settings for reaching the validation service.
type ValidatorConfig struct {
	// BaseURL of the validation service API (e.g., http://latchline:8080).
	BaseURL string `yaml:"base_url"`

	// TimeoutMs bounds the validate call. A timeout is a deny.
	TimeoutMs int `yaml:"timeout_ms"`
}

// SourceConfig selects how token-bearing requests reach this controller.
type SourceConfig struct {
	// Mode is "mqtt" (broadcast discovery) or "http" (direct push).
	Mode string `yaml:"mode"`

	// HTTP listener settings, used when Mode is "http".
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`
}

// ActuationConfig contains lock timing and relay settings.
type ActuationConfig struct {
	// UnlockSeconds is how long the lock stays open on a grant.
	UnlockSeconds int `yaml:"unlock_seconds"`

	// DenyCooldownSeconds is the dwell after a deny before the
	// controller accepts another attempt.
	DenyCooldownSeconds int `yaml:"deny_cooldown_seconds"`

	// GPIOPath is the relay pin value file (e.g.
	// /sys/class/gpio/gpio17/value). Empty selects the simulated
	// actuator, which only logs.
	GPIOPath string `yaml:"gpio_path"`

	// ActiveLow inverts relay levels for boards that energize on 0.
	ActiveLow bool `yaml:"active_low"`
}

// LoadController reads controller configuration from a YAML file and
// applies environment variable overrides, mirroring Load for the service.
//
// Environment variables use the same LATCHLINE_ prefix, for example
// LATCHLINE_DOOR_ID and LATCHLINE_SENSOR_DEVICE.
func LoadController(path string) (*ControllerConfig, error) {
	cfg := defaultControllerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyControllerEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultControllerConfig returns a ControllerConfig with sensible defaults.
func defaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		Sensor: SensorConfig{
			Device:   "/dev/ttyAMA0",
			Baud:     115200,
			SettleMs: 60,
			BudgetMs: 500,
		},
		Validator: ValidatorConfig{
			TimeoutMs: 3000,
		},
		Source: SourceConfig{
			Mode:     "mqtt",
			HTTPHost: "0.0.0.0",
			HTTPPort: 8090,
		},
		Actuation: ActuationConfig{
			UnlockSeconds:       4,
			DenyCooldownSeconds: 2,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyControllerEnvOverrides applies environment variable overrides.
func applyControllerEnvOverrides(cfg *ControllerConfig) {
	if v := os.Getenv("LATCHLINE_DOOR_ID"); v != "" {
		cfg.DoorID = v
	}
	if v := os.Getenv("LATCHLINE_SENSOR_DEVICE"); v != "" {
		cfg.Sensor.Device = v
	}
	if v := os.Getenv("LATCHLINE_VALIDATOR_URL"); v != "" {
		cfg.Validator.BaseURL = v
	}
	if v := os.Getenv("LATCHLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LATCHLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LATCHLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
}

// Validate checks the controller configuration for errors.
func (c *ControllerConfig) Validate() error {
	var errs []string

	if c.DoorID == "" {
		errs = append(errs, "door_id is required (set LATCHLINE_DOOR_ID environment variable)")
	}
	if c.Sensor.Device == "" {
		errs = append(errs, "sensor.device is required")
	}
	if c.Sensor.BudgetMs < 1 {
		errs = append(errs, "sensor.budget_ms must be positive")
	}

	switch c.Source.Mode {
	case "mqtt":
		// Broker settings validated on connect.
	case "http":
		if c.Source.HTTPPort < 1 || c.Source.HTTPPort > 65535 {
			errs = append(errs, "source.http_port must be between 1 and 65535")
		}
	default:
		errs = append(errs, "source.mode must be \"mqtt\" or \"http\"")
	}

	// The validate call always travels over HTTP. In mqtt mode the URL
	// may be left empty and learned from the discovery announce.
	if c.Validator.BaseURL == "" && c.Source.Mode == "http" {
		errs = append(errs, "validator.base_url is required in http mode")
	}

	if c.Actuation.UnlockSeconds < 1 {
		errs = append(errs, "actuation.unlock_seconds must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SettleInterval returns the sensor settle pause as a Duration.
func (c *SensorConfig) SettleInterval() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Budget returns the sensor read budget as a Duration.
func (c *SensorConfig) Budget() time.Duration {
	return time.Duration(c.BudgetMs) * time.Millisecond
}

// Timeout returns the validate call timeout as a Duration.
func (c *ValidatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// UnlockDwell returns the grant dwell as a Duration.
func (c *ActuationConfig) UnlockDwell() time.Duration {
	return time.Duration(c.UnlockSeconds) * time.Second
}

// DenyCooldown returns the deny dwell as a Duration.
func (c *ActuationConfig) DenyCooldown() time.Duration {
	return time.Duration(c.DenyCooldownSeconds) * time.Second
}
