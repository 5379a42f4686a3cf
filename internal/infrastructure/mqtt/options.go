package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the synchronous part of Connect.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds publish, subscribe and unsubscribe
	// acknowledgements.
	ackTimeout = 5 * time.Second

	// disconnectQuiesceMs is handed to paho's Disconnect so pending
	// work can flush.
	disconnectQuiesceMs = 1000

	// keepAlive lets the broker notice dead TCP connections.
	keepAlive = 60 * time.Second

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2
)

// Option adjusts connection behaviour beyond what the config struct
// carries.
type Option func(*settings)

type settings struct {
	// statusTopic carries the LWT and the online/offline
	// announcements for this client.
	statusTopic string
}

func resolveSettings(opts []Option) settings {
	s := settings{statusTopic: Topics{}.SystemStatus()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithStatusTopic moves the LWT and presence announcements. Door
// controllers use their per-door status topic so the system status
// topic only ever describes the validator service.
func WithStatusTopic(topic string) Option {
	return func(s *settings) {
		s.statusTopic = topic
	}
}

// pahoOptions translates the config section into paho client options:
// broker URL, identity, credentials, clean session, and auto-reconnect
// with the configured backoff bounds.
func pahoOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// setWill installs the Last Will so the broker reports this client's
// crash on its status topic. Door controllers treat an offline
// validator as deny-everything, which makes prompt crash detection
// part of the access semantics, not just observability.
//
// QoS 1 and retained, so late subscribers see the last known state.
func setWill(opts *pahomqtt.ClientOptions, clientID, topic string) {
	opts.SetWill(topic, statusJSON(clientID, "offline", "unexpected_disconnect"), 1, true)
}

// statusPayload is the wire form of presence announcements and the LWT.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusJSON renders a presence payload. reason is empty for online.
func statusJSON(clientID, status, reason string) string {
	b, err := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Fixed struct of strings; cannot fail.
		return `{"status":"` + status + `"}`
	}
	return string(b)
}
