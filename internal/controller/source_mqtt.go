package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sloanware/latchline-core/internal/infrastructure/mqtt"
)

// Broker is the MQTT surface the source needs. Satisfied by
// *mqtt.Client; tests supply a scripted fake.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// EndpointSetter receives the validator endpoint learned from the
// discovery announce. Satisfied by *Client.
type EndpointSetter interface {
	SetBaseURL(u string)
}

// discoveryAnnounce is the retained payload the service publishes on
// latchline/discovery.
type discoveryAnnounce struct {
	BaseURL string `json:"base_url"`
	SiteID  string `json:"site_id,omitempty"`
}

// decisionEvent is published on the door decision topic after each
// handled attempt. It never carries the token.
type decisionEvent struct {
	DoorID    string `json:"door_id"`
	Granted   bool   `json:"granted"`
	Reason    string `json:"reason,omitempty"`
	DecidedAt string `json:"decided_at"`
}

// MQTTSourceOptions holds configuration for creating an MQTTSource.
type MQTTSourceOptions struct {
	// Broker is the connected MQTT client. Required.
	Broker Broker

	// DoorID selects the request topic to watch. Required.
	DoorID string

	// QoS for subscriptions and publishes.
	QoS byte

	// Submitter receives parsed requests. Required.
	Submitter Submitter

	// Endpoint, when set, is updated from discovery announces.
	Endpoint EndpointSetter

	// Logger is optional structured logging.
	Logger Logger
}

// MQTTSource delivers access requests from the door's broadcast request
// topic into the controller, and publishes decisions and controller
// presence back to the broker.
type MQTTSource struct {
	broker   Broker
	doorID   string
	qos      byte
	submit   Submitter
	endpoint EndpointSetter
	logger   Logger

	stopOnce sync.Once
}

var _ RequestSource = (*MQTTSource)(nil)

// NewMQTTSource creates an MQTT request source. Call Start to subscribe.
func NewMQTTSource(opts MQTTSourceOptions) (*MQTTSource, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.DoorID == "" {
		return nil, fmt.Errorf("door ID is required")
	}
	if opts.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &MQTTSource{
		broker:   opts.Broker,
		doorID:   opts.DoorID,
		qos:      opts.QoS,
		submit:   opts.Submitter,
		endpoint: opts.Endpoint,
		logger:   logger,
	}, nil
}

// Start subscribes to the discovery announce and the door request
// topic, then marks the controller online on its retained status topic.
func (s *MQTTSource) Start(_ context.Context) error {
	topics := mqtt.Topics{}

	if s.endpoint != nil {
		if err := s.broker.Subscribe(topics.Discovery(), s.qos, s.handleDiscovery); err != nil {
			return fmt.Errorf("subscribe to discovery: %w", err)
		}
	}

	requestTopic := topics.DoorRequest(s.doorID)
	if err := s.broker.Subscribe(requestTopic, s.qos, s.handleRequest); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	s.publishStatus("online")
	s.logger.Info("mqtt request source started", "topic", requestTopic)

	return nil
}

// Stop unsubscribes and marks the controller offline.
func (s *MQTTSource) Stop() {
	s.stopOnce.Do(func() {
		topics := mqtt.Topics{}

		// Best effort: the broker connection may already be gone.
		if s.broker.IsConnected() {
			_ = s.broker.Unsubscribe(topics.DoorRequest(s.doorID))
			if s.endpoint != nil {
				_ = s.broker.Unsubscribe(topics.Discovery())
			}
			s.publishStatus("offline")
		}

		s.logger.Info("mqtt request source stopped", "door_id", s.doorID)
	})
}

// PublishDecision emits the attempt outcome on the door decision topic.
// Wire it to Controller Options.OnDecision.
func (s *MQTTSource) PublishDecision(_ AccessRequest, resp DecisionResponse) {
	event := decisionEvent{
		DoorID:    s.doorID,
		Granted:   resp.Granted,
		Reason:    resp.Reason,
		DecidedAt: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal decision event", "error", err)
		return
	}

	topic := mqtt.Topics{}.DoorDecision(s.doorID)
	if err := s.broker.Publish(topic, payload, s.qos, false); err != nil {
		s.logger.Warn("failed to publish decision", "topic", topic, "error", err)
	}
}

// handleRequest parses a request payload and hands it to the controller.
// Malformed payloads are dropped here; busy drops are logged by Submit.
func (s *MQTTSource) handleRequest(topic string, payload []byte) error {
	var req AccessRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("malformed access request dropped", "topic", topic, "error", err)
		return nil
	}
	if req.Token == "" {
		s.logger.Warn("access request without token dropped", "topic", topic)
		return nil
	}
	if req.DoorID != "" && req.DoorID != s.doorID {
		s.logger.Warn("misrouted access request dropped",
			"topic", topic,
			"requested_door", req.DoorID,
			"door_id", s.doorID)
		return nil
	}

	s.submit.Submit(req)
	return nil
}

// handleDiscovery updates the validator endpoint from the retained
// service announce.
func (s *MQTTSource) handleDiscovery(_ string, payload []byte) error {
	var announce discoveryAnnounce
	if err := json.Unmarshal(payload, &announce); err != nil {
		s.logger.Warn("malformed discovery announce", "error", err)
		return nil
	}
	if announce.BaseURL == "" {
		s.logger.Warn("discovery announce without base_url")
		return nil
	}

	s.endpoint.SetBaseURL(announce.BaseURL)
	return nil
}

// publishStatus publishes the retained controller presence value.
func (s *MQTTSource) publishStatus(status string) {
	payload := fmt.Sprintf(
		`{"status":%q,"door_id":%q,"timestamp":%q}`,
		status, s.doorID, time.Now().UTC().Format(time.RFC3339),
	)

	topic := mqtt.Topics{}.DoorStatus(s.doorID)
	if err := s.broker.Publish(topic, []byte(payload), s.qos, true); err != nil {
		s.logger.Warn("failed to publish controller status", "status", status, "error", err)
	}
}
