package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the Latchline validation service.
// Values resolve in three layers: built-in defaults, then the YAML
// file, then LATCHLINE_* environment variables on top.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Access    AccessConfig    `yaml:"access"`
	Admin     AdminConfig     `yaml:"admin"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig holds the SQLite settings. BusyTimeout is in seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig holds broker connection settings shared by the service
// and the door controllers.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig names the broker endpoint and this client's identity.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig carries broker credentials. Empty username means
// anonymous access (local development only).
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
// MaxAttempts zero means retry forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdvertiseURL is the base URL published in the MQTT discovery
	// announce. Controllers validate against it, so it must be
	// reachable from the door network; a listener bound to 0.0.0.0
	// cannot be advertised as-is. Empty falls back to the host name.
	AdvertiseURL string `yaml:"advertise_url"`

	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig points at the certificate pair for the HTTPS listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds HTTP server timeouts, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what the browser-facing middleware allows.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes the admin event feed. Intervals are in seconds,
// MaxMessageSize in bytes.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig holds the metrics sink settings. Disabled means the
// service runs without time-series metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format (json or text) and output
// (stdout, stderr, or a file path).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AccessConfig holds token lifecycle and proximity decision settings.
type AccessConfig struct {
	// TokenTTL is the short token lifetime in seconds from issuance.
	TokenTTL int `yaml:"token_ttl"`

	// RateLimit gates short-token issuance per credential.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Thresholds for the proximity decision.
	RSSIFloorDBm      int `yaml:"rssi_floor_dbm"`
	DistanceCeilingCm int `yaml:"distance_ceiling_cm"`

	// Sweep intervals in seconds for background purges.
	TokenSweepInterval      int `yaml:"token_sweep_interval"`
	CredentialSweepInterval int `yaml:"credential_sweep_interval"`
}

// RateLimitConfig holds per-credential admission control settings.
type RateLimitConfig struct {
	// MaxRequests within one window before suspension.
	MaxRequests int `yaml:"max_requests"`

	// WindowSeconds is both the trailing window and the cooldown length.
	WindowSeconds int `yaml:"window_seconds"`
}

// AdminConfig holds the administrative surface settings.
type AdminConfig struct {
	// SecretHash is the argon2id PHC hash of the shared admin secret.
	// Set via LATCHLINE_ADMIN_SECRET_HASH in production.
	SecretHash string `yaml:"secret_hash"`

	// JWT settings for admin session tokens exchanged for the secret.
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds admin session token settings. SessionTTL is in
// minutes.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	SessionTTL int    `yaml:"session_ttl"`
}

// Load resolves the service configuration from path. Defaults are
// filled in first, the YAML file overlays them, LATCHLINE_* variables
// overlay the file, and the result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Latchline",
		},
		Database: DatabaseConfig{
			Path:        "./data/latchline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "latchline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Access: AccessConfig{
			TokenTTL: 30,
			RateLimit: RateLimitConfig{
				MaxRequests:   5,
				WindowSeconds: 60,
			},
			RSSIFloorDBm:            -70,
			DistanceCeilingCm:       90,
			TokenSweepInterval:      60,
			CredentialSweepInterval: 3600,
		},
		Admin: AdminConfig{
			JWT: JWTConfig{
				SessionTTL: 15,
			},
		},
	}
}

// envOverrides maps LATCHLINE_* variables onto config fields. Only
// values that carry secrets or routinely differ between the packaged
// file and the deployment get an override; everything else belongs in
// the YAML.
var envOverrides = []struct {
	key string
	set func(*Config, string)
}{
	{"LATCHLINE_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"LATCHLINE_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"LATCHLINE_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"LATCHLINE_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"LATCHLINE_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"LATCHLINE_API_ADVERTISE_URL", func(c *Config, v string) { c.API.AdvertiseURL = v }},
	{"LATCHLINE_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"LATCHLINE_ADMIN_SECRET_HASH", func(c *Config, v string) { c.Admin.SecretHash = v }},
	{"LATCHLINE_JWT_SECRET", func(c *Config, v string) { c.Admin.JWT.Secret = v }},
}

func applyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.key); v != "" {
			o.set(cfg, v)
		}
	}
}

// Validate collects every problem at once so a bad config file reads
// as one actionable error instead of a fix-rerun loop.
func (c *Config) Validate() error {
	var errs []string
	bad := func(cond bool, msg string) {
		if cond {
			errs = append(errs, msg)
		}
	}

	bad(c.Site.ID == "", "site.id is required")
	bad(c.Database.Path == "", "database.path is required")
	bad(c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1, or 2")
	bad(c.API.Port < 1 || c.API.Port > 65535, "api.port must be between 1 and 65535")

	bad(c.Access.TokenTTL < 1, "access.token_ttl must be at least 1 second")
	bad(c.Access.RateLimit.MaxRequests < 1, "access.rate_limit.max_requests must be at least 1")
	bad(c.Access.RateLimit.WindowSeconds < 1, "access.rate_limit.window_seconds must be at least 1")
	bad(c.Access.DistanceCeilingCm < 1, "access.distance_ceiling_cm must be positive")
	bad(c.Access.RSSIFloorDBm >= 0, "access.rssi_floor_dbm must be negative (dBm)")

	// The secret hash guards enrollment and revocation of physical
	// access credentials; the JWT secret signs admin sessions. Weak
	// values here mean an attacker can mint door permissions.
	const minJWTSecret = 32
	bad(c.Admin.SecretHash == "", "admin.secret_hash is required (set LATCHLINE_ADMIN_SECRET_HASH environment variable)")
	switch {
	case c.Admin.JWT.Secret == "":
		errs = append(errs, "admin.jwt.secret is required (set LATCHLINE_JWT_SECRET environment variable)")
	case len(c.Admin.JWT.Secret) < minJWTSecret:
		errs = append(errs, "admin.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TokenTTLDuration returns the short token lifetime as a Duration.
func (c *AccessConfig) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Second
}

// Window returns the rate limit window as a Duration.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}
