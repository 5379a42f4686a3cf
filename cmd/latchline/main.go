// Latchline Core, the proximity access validation service.
//
// This binary owns the system of record (SQLite), issues and validates
// short-lived access tokens, serves the admin API and live event feed,
// announces itself to door controllers over MQTT, and streams decision
// metrics to InfluxDB. The door-side daemon lives in cmd/doorlinkd.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/sloanware/latchline-core/migrations"

	"github.com/sloanware/latchline-core/internal/access"
	"github.com/sloanware/latchline-core/internal/api"
	"github.com/sloanware/latchline-core/internal/infrastructure/config"
	"github.com/sloanware/latchline-core/internal/infrastructure/database"
	"github.com/sloanware/latchline-core/internal/infrastructure/influxdb"
	"github.com/sloanware/latchline-core/internal/infrastructure/logging"
	"github.com/sloanware/latchline-core/internal/infrastructure/mqtt"
)

// Stamped by the release build:
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	hashSecret := flag.Bool("hash-secret", false,
		"read an admin secret on stdin, print its argon2id hash, and exit")
	flag.Parse()

	// Bootstrap utility: the config refuses to load without a secret
	// hash, and PHC argon2id has no htpasswd equivalent to make one.
	if *hashSecret {
		if err := printSecretHash(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the whole service together and blocks until ctx cancels.
// Teardown rides the deferred closes in reverse order: API listener
// first, then the metrics and broker connections, sweeper, database.
func run(ctx context.Context) error {
	log := logging.Default("latchline")
	log.Info("latchline core starting",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, "latchline", version)
	log.Info("config loaded",
		"path", cfgPath,
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer closeQuietly(log, "database", db.Close)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	svc := buildAccessService(cfg, db, log)
	log.Info("access service ready",
		"token_ttl", cfg.Access.TokenTTLDuration().String(),
		"rssi_floor_dbm", cfg.Access.RSSIFloorDBm,
		"distance_ceiling_cm", cfg.Access.DistanceCeilingCm,
	)

	sweeper := access.NewSweeper(svc, access.SweeperConfig{
		TokenInterval:      time.Duration(cfg.Access.TokenSweepInterval) * time.Second,
		CredentialInterval: time.Duration(cfg.Access.CredentialSweepInterval) * time.Second,
		Logger:             log.With("component", "sweeper"),
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	adminAuth := access.NewAdminAuth(
		cfg.Admin.SecretHash,
		cfg.Admin.JWT.Secret,
		time.Duration(cfg.Admin.JWT.SessionTTL)*time.Minute,
	)

	health := map[string]api.HealthChecker{"database": db}

	if cfg.MQTT.Enabled {
		mqttClient, err := connectBroker(cfg, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer closeQuietly(log, "mqtt", mqttClient.Close)
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled, controllers need a static validator URL")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := connectMetrics(ctx, cfg, svc, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer closeQuietly(log, "influxdb", influxClient.Close)
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Access:  svc,
		Admin:   adminAuth,
		Health:  health,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	svc.AddSink(apiServer)

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer closeQuietly(log, "api server", apiServer.Close)
	log.Info("API server up",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	if err := verifyHealth(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("startup complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutting down")

	return nil
}

// buildAccessService assembles the repositories, rate limiter, and
// thresholds over the shared connection.
func buildAccessService(cfg *config.Config, db *database.DB, log *logging.Logger) *access.Service {
	return access.NewService(
		access.NewCredentialRepository(db.DB),
		access.NewTokenRepository(db.DB),
		access.NewEventRepository(db.DB),
		access.NewRateLimiter(db.DB, cfg.Access.RateLimit.MaxRequests, cfg.Access.RateLimit.Window()),
		access.Thresholds{
			RSSIFloorDBm:      cfg.Access.RSSIFloorDBm,
			DistanceCeilingCm: cfg.Access.DistanceCeilingCm,
		},
		cfg.Access.TokenTTLDuration(),
		log.With("component", "access"),
	)
}

// connectBroker connects to MQTT and publishes the retained discovery
// announce. The announce repeats on every session so a broker restart
// without persisted retained messages heals itself.
func connectBroker(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, err
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT session up")
		announceDiscovery(client, cfg, log)
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT session down", "error", err)
	})

	announceDiscovery(client, cfg, log)
	return client, nil
}

// connectMetrics connects to InfluxDB and registers the decision sink
// on the access service.
func connectMetrics(ctx context.Context, cfg *config.Config, svc *access.Service, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, err
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	svc.AddSink(&decisionMetricsSink{client: client})

	return client, nil
}

// verifyHealth probes every wired component once so a half-broken
// deployment fails at startup instead of at the first door.
func verifyHealth(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, hc := range checks {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func closeQuietly(log *logging.Logger, name string, close func() error) {
	log.Info("closing " + name)
	if err := close(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}

// configPath honours LATCHLINE_CONFIG before falling back to the
// packaged default.
func configPath() string {
	if path := os.Getenv("LATCHLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// announceDiscovery publishes the retained validator announce.
// Controllers in mqtt mode read it to learn the validation endpoint
// without static addressing; retention means a controller that boots
// later still finds the service.
func announceDiscovery(client *mqtt.Client, cfg *config.Config, log *logging.Logger) {
	baseURL := advertiseURL(cfg)

	payload, err := json.Marshal(map[string]string{
		"base_url": baseURL,
		"site_id":  cfg.Site.ID,
	})
	if err != nil {
		log.Error("failed to marshal discovery announce", "error", err)
		return
	}

	topic := mqtt.Topics{}.Discovery()
	if err := client.PublishRetained(topic, payload); err != nil {
		log.Warn("failed to publish discovery announce", "topic", topic, "error", err)
		return
	}
	log.Info("discovery announce published", "topic", topic, "base_url", baseURL)
}

// advertiseURL resolves the base URL controllers validate against.
// Explicit configuration wins; otherwise the URL derives from the host
// name, since a wildcard bind address is not reachable from the door
// network.
func advertiseURL(cfg *config.Config) string {
	if cfg.API.AdvertiseURL != "" {
		return strings.TrimRight(cfg.API.AdvertiseURL, "/")
	}

	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		name, err := os.Hostname()
		if err != nil {
			name = "localhost"
		}
		host = name
	}

	scheme := "http"
	if cfg.API.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, cfg.API.Port)
}

// printSecretHash reads one line from stdin and prints the PHC-format
// argon2id hash for admin.secret_hash (LATCHLINE_ADMIN_SECRET_HASH).
// Reading from stdin keeps the secret out of shell history.
func printSecretHash() error {
	reader := bufio.NewReader(os.Stdin)
	secret, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret = strings.TrimRight(secret, "\r\n")
	if secret == "" {
		return fmt.Errorf("empty secret")
	}

	hash, err := access.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("hashing secret: %w", err)
	}

	fmt.Println(hash)
	return nil
}

// decisionMetricsSink adapts the InfluxDB client to the access
// package's decision sink interface. Writes are batched and
// non-blocking, so metrics never delay the door response.
type decisionMetricsSink struct {
	client *influxdb.Client
}

func (s *decisionMetricsSink) DecisionRecorded(event access.AccessEvent) {
	s.client.WriteDecision(influxdb.DecisionPoint{
		DoorID:     event.DoorID,
		Decision:   event.Decision,
		Reason:     string(event.Reason),
		RSSIDbm:    event.RSSIDbm,
		DistanceCm: event.DistanceCm,
		LatencyMs:  event.LatencyMs,
		At:         event.CreatedAt,
	})
}
