package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testSecretHash is a syntactically valid argon2id PHC string for tests.
const testSecretHash = "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$RdescudvJCsgt3ub+b+dWRWJTmaaJObG"

const testJWTSecret = "test-secret-key-at-least-32-chars!"

// validConfig returns a minimal config that passes Validate. Tests
// break one field at a time to probe individual rules.
func validConfig() *Config {
	return &Config{
		Site:     SiteConfig{ID: "site-001"},
		Database: DatabaseConfig{Path: "/data/latchline.db"},
		MQTT:     MQTTConfig{QoS: 1},
		API:      APIConfig{Port: 8080},
		Access: AccessConfig{
			TokenTTL: 30,
			RateLimit: RateLimitConfig{
				MaxRequests:   5,
				WindowSeconds: 60,
			},
			RSSIFloorDBm:      -70,
			DistanceCeilingCm: 90,
		},
		Admin: AdminConfig{
			SecretHash: testSecretHash,
			JWT:        JWTConfig{Secret: testJWTSecret},
		},
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
admin:
  secret_hash: "`+testSecretHash+`"
  jwt:
    secret: "`+testJWTSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Sections the file never mentions keep their defaults.
	if cfg.Access.TokenTTL != 30 {
		t.Errorf("Access.TokenTTL = %d, want default 30", cfg.Access.TokenTTL)
	}
	if cfg.Access.RSSIFloorDBm != -70 {
		t.Errorf("Access.RSSIFloorDBm = %d, want default -70", cfg.Access.RSSIFloorDBm)
	}
	if cfg.Access.DistanceCeilingCm != 90 {
		t.Errorf("Access.DistanceCeilingCm = %d, want default 90", cfg.Access.DistanceCeilingCm)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: "test-site"
database:
  path: "/from/file.db"
admin:
  secret_hash: "`+testSecretHash+`"
  jwt:
    secret: "`+testJWTSecret+`"
`)
	t.Setenv("LATCHLINE_DATABASE_PATH", "/from/env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/from/env.db" {
		t.Errorf("Database.Path = %q, want env override %q", cfg.Database.Path, "/from/env.db")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfigFile(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "QoS out of range",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "token TTL zero",
			mutate:  func(c *Config) { c.Access.TokenTTL = 0 },
			wantErr: "access.token_ttl",
		},
		{
			name:    "rate limit max requests zero",
			mutate:  func(c *Config) { c.Access.RateLimit.MaxRequests = 0 },
			wantErr: "access.rate_limit.max_requests",
		},
		{
			name:    "rate limit window zero",
			mutate:  func(c *Config) { c.Access.RateLimit.WindowSeconds = 0 },
			wantErr: "access.rate_limit.window_seconds",
		},
		{
			name:    "distance ceiling zero",
			mutate:  func(c *Config) { c.Access.DistanceCeilingCm = 0 },
			wantErr: "access.distance_ceiling_cm",
		},
		{
			name:    "positive RSSI floor",
			mutate:  func(c *Config) { c.Access.RSSIFloorDBm = 10 },
			wantErr: "access.rssi_floor_dbm",
		},
		{
			name:    "zero RSSI floor",
			mutate:  func(c *Config) { c.Access.RSSIFloorDBm = 0 },
			wantErr: "access.rssi_floor_dbm",
		},
		{
			name:    "missing admin secret hash",
			mutate:  func(c *Config) { c.Admin.SecretHash = "" },
			wantErr: "admin.secret_hash",
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Admin.JWT.Secret = "" },
			wantErr: "admin.jwt.secret is required",
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Admin.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error naming %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllProblemsAtOnce(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = 7
	cfg.Access.TokenTTL = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined error")
	}
	for _, want := range []string{"site.id", "mqtt.qos", "access.token_ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %q", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LATCHLINE_DATABASE_PATH":     "/custom/path.db",
		"LATCHLINE_MQTT_HOST":         "mqtt.example.com",
		"LATCHLINE_MQTT_USERNAME":     "testuser",
		"LATCHLINE_MQTT_PASSWORD":     "testpass",
		"LATCHLINE_API_HOST":          "192.168.1.1",
		"LATCHLINE_API_ADVERTISE_URL": "https://latchline.example.com",
		"LATCHLINE_INFLUXDB_TOKEN":    "secret-token",
		"LATCHLINE_ADMIN_SECRET_HASH": testSecretHash,
		"LATCHLINE_JWT_SECRET":        "jwt-secret",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg := defaultConfig()
	applyEnv(cfg)

	got := map[string]string{
		"LATCHLINE_DATABASE_PATH":     cfg.Database.Path,
		"LATCHLINE_MQTT_HOST":         cfg.MQTT.Broker.Host,
		"LATCHLINE_MQTT_USERNAME":     cfg.MQTT.Auth.Username,
		"LATCHLINE_MQTT_PASSWORD":     cfg.MQTT.Auth.Password,
		"LATCHLINE_API_HOST":          cfg.API.Host,
		"LATCHLINE_API_ADVERTISE_URL": cfg.API.AdvertiseURL,
		"LATCHLINE_INFLUXDB_TOKEN":    cfg.InfluxDB.Token,
		"LATCHLINE_ADMIN_SECRET_HASH": cfg.Admin.SecretHash,
		"LATCHLINE_JWT_SECRET":        cfg.Admin.JWT.Secret,
	}
	for key, want := range env {
		if got[key] != want {
			t.Errorf("%s: field = %q, want %q", key, got[key], want)
		}
	}
}

func TestApplyEnvIgnoresEmptyValues(t *testing.T) {
	t.Setenv("LATCHLINE_DATABASE_PATH", "")

	cfg := defaultConfig()
	before := cfg.Database.Path
	applyEnv(cfg)

	if cfg.Database.Path != before {
		t.Errorf("Database.Path = %q, want untouched %q", cfg.Database.Path, before)
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("default Site.ID must not be empty")
	}
	if cfg.Database.Path == "" {
		t.Error("default Database.Path must not be empty")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("default API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Access.RateLimit.MaxRequests != 5 {
		t.Errorf("default Access.RateLimit.MaxRequests = %d, want 5", cfg.Access.RateLimit.MaxRequests)
	}

	// Defaults deliberately omit admin secrets, so a config file that
	// never sets them fails validation instead of booting open.
	if cfg.Admin.SecretHash != "" || cfg.Admin.JWT.Secret != "" {
		t.Error("defaults must not include admin secrets")
	}
}

func TestDurationHelpers(t *testing.T) {
	access := AccessConfig{
		TokenTTL:  45,
		RateLimit: RateLimitConfig{WindowSeconds: 90},
	}

	if got := access.TokenTTLDuration().Seconds(); got != 45 {
		t.Errorf("TokenTTLDuration() = %vs, want 45s", got)
	}
	if got := access.RateLimit.Window().Seconds(); got != 90 {
		t.Errorf("Window() = %vs, want 90s", got)
	}
}
