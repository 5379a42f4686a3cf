package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic, which may carry MQTT
// wildcards: + for one level ("latchline/door/+/request" is every
// door's request topic), # for the rest of the tree.
//
// The registration survives reconnects; the client replays it each
// time the link comes back. Handler runs under panic containment, one
// invocation per message, on paho's goroutines.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track first so a reconnect racing this call still replays the
	// subscription; untrack on failure.
	c.mu.Lock()
	c.subs[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.paho.Subscribe(topic, qos, c.guard(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return err
	}

	return nil
}

// Unsubscribe stops delivery for the exact topic string passed to
// Subscribe. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	return await(c.paho.Unsubscribe(topic), ackTimeout, ErrUnsubscribeFailed)
}

// SubscriptionCount reports how many topics are tracked.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// HasSubscription reports whether the exact topic string is tracked.
// No pattern matching: "a/+" and "a/b" are different entries.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}
