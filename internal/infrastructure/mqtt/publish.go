package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads at 1MB. Requests and decisions
// are a few hundred bytes; the cap guards against a misbehaving caller,
// not normal traffic.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker's
// acknowledgement at the given QoS.
//
// retained asks the broker to hand the message to future subscribers
// too. The discovery announce and status topics want that; requests
// and decisions must not be retained or a stale decision could replay
// to the next subscriber.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.paho.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed)
}

// PublishRetained publishes retained at the configured default QoS.
// Shorthand for the discovery and status publishers.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
