// Latchline Doorlink, the door controller daemon.
//
// doorlinkd runs on the door controller hardware and owns one door: it
// reads the rangefinder over the serial link, samples signal strength
// when a sampler is wired, relays token-bearing attempts to the
// Latchline validation service, and drives the lock relay with the
// decision. Requests arrive either over MQTT broadcast discovery or a
// direct HTTP push, selected by configuration.
//
// The validation service lives in cmd/latchline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sloanware/latchline-core/internal/bridges/rangefinder"
	"github.com/sloanware/latchline-core/internal/controller"
	"github.com/sloanware/latchline-core/internal/infrastructure/config"
	"github.com/sloanware/latchline-core/internal/infrastructure/logging"
	"github.com/sloanware/latchline-core/internal/infrastructure/mqtt"
)

// Stamped by the release build via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/doorlinkd.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the sensor, validator client, actuator, and request source
// together, then blocks until ctx cancels. The deferred closes tear
// down in reverse: source first (no new attempts), broker, controller
// (waits out in-flight actuation), sensor link last.
func run(ctx context.Context) error {
	log := logging.Default("doorlinkd")
	log.Info("doorlinkd starting",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfgPath := configPath()
	cfg, err := config.LoadController(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, "doorlinkd", version)
	log.Info("config loaded", "path", cfgPath, "door_id", cfg.DoorID)

	link, err := rangefinder.OpenSerialLink(cfg.Sensor.Device, cfg.Sensor.Baud)
	if err != nil {
		return fmt.Errorf("opening sensor link: %w", err)
	}
	defer closeQuietly(log, "sensor link", link.Close)
	log.Info("sensor link open",
		"device", cfg.Sensor.Device,
		"baud", cfg.Sensor.Baud,
	)

	reader := rangefinder.NewReader(link, rangefinder.ReaderConfig{
		Settle: cfg.Sensor.SettleInterval(),
		Budget: cfg.Sensor.Budget(),
		Logger: log.With("component", "rangefinder"),
	})

	// In mqtt mode the base URL may start empty and be learned from
	// the discovery announce.
	client := controller.NewClient(cfg.Validator, log.With("component", "validator"))

	// The decision callback reaches the MQTT source through a late
	// binding: source construction needs the controller first.
	var mqttSource *controller.MQTTSource

	ctrl, err := controller.New(controller.Options{
		DoorID:       cfg.DoorID,
		Sensor:       reader,
		Client:       client,
		Actuator:     selectActuator(cfg, log),
		UnlockDwell:  cfg.Actuation.UnlockDwell(),
		DenyCooldown: cfg.Actuation.DenyCooldown(),
		OnDecision: func(req controller.AccessRequest, resp controller.DecisionResponse) {
			if mqttSource != nil {
				mqttSource.PublishDecision(req, resp)
			}
		},
		Logger: log.With("component", "controller"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer ctrl.Stop()

	var source controller.RequestSource
	switch cfg.Source.Mode {
	case "mqtt":
		mqttClient, err := connectDoorBroker(cfg, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer closeQuietly(log, "mqtt", mqttClient.Close)

		mqttSource, err = controller.NewMQTTSource(controller.MQTTSourceOptions{
			Broker:    mqttClient,
			DoorID:    cfg.DoorID,
			QoS:       byte(cfg.MQTT.QoS),
			Submitter: ctrl,
			Endpoint:  client,
			Logger:    log.With("component", "source"),
		})
		if err != nil {
			return fmt.Errorf("creating mqtt request source: %w", err)
		}
		source = mqttSource

	case "http":
		httpSource, err := controller.NewHTTPSource(controller.HTTPSourceOptions{
			Host:      cfg.Source.HTTPHost,
			Port:      cfg.Source.HTTPPort,
			DoorID:    cfg.DoorID,
			Submitter: ctrl,
			Logger:    log.With("component", "source"),
		})
		if err != nil {
			return fmt.Errorf("creating http request source: %w", err)
		}
		source = httpSource

	default:
		// Unreachable after config validation, kept for safety.
		return fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}

	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("starting request source: %w", err)
	}
	defer source.Stop()

	log.Info("startup complete, waiting for shutdown signal",
		"door_id", cfg.DoorID,
		"source_mode", cfg.Source.Mode,
	)
	<-ctx.Done()
	log.Info("shutting down")

	return nil
}

// selectActuator returns the GPIO relay driver when a pin is
// configured and the log-only simulator otherwise.
func selectActuator(cfg *config.ControllerConfig, log *logging.Logger) controller.Actuator {
	if cfg.Actuation.GPIOPath == "" {
		log.Info("simulated actuator selected, no gpio_path configured")
		return controller.NewLogActuator(log.With("component", "actuator"))
	}

	log.Info("gpio actuator selected",
		"path", cfg.Actuation.GPIOPath,
		"active_low", cfg.Actuation.ActiveLow,
	)
	return controller.NewGPIOActuator(
		cfg.Actuation.GPIOPath,
		cfg.Actuation.ActiveLow,
		log.With("component", "actuator"),
	)
}

// connectDoorBroker connects to MQTT with presence and crash detection
// on this door's status topic.
func connectDoorBroker(cfg *config.ControllerConfig, log *logging.Logger) (*mqtt.Client, error) {
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "doorlinkd-" + cfg.DoorID
	}

	client, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithStatusTopic(mqtt.Topics{}.DoorStatus(cfg.DoorID)))
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
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT session down", "error", err)
	})

	return client, nil
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
