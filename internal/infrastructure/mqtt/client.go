package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
)

// Logger is the slice of logging.Logger the client needs. Optional;
// without one, handler errors and recovered panics vanish.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. Paho invokes handlers
// on its own goroutines; a handler that blocks stalls delivery on its
// connection, so hand long work off.
//
// The returned error is logged and otherwise ignored: MQTT has no
// per-message nack to map it onto.
type MessageHandler func(topic string, payload []byte) error

// subscription is one tracked topic registration, kept so reconnects
// can replay it.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is the Latchline wrapper around paho.mqtt.golang.
//
// One instance serves a whole process. All methods are safe for
// concurrent use. The client carries its own presence: a retained
// online announcement after every (re)connect, a retained offline
// announcement on graceful Close, and a broker-published LWT for
// crashes, all on statusTopic.
type Client struct {
	cfg         config.MQTTConfig
	statusTopic string
	paho        pahomqtt.Client

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
	onUp      func()
	onDown    func(error)
	logger    Logger
}

// Connect dials the broker and blocks until the first connection
// attempt resolves. After that, paho's auto-reconnect owns the link:
// drops are redialed with backoff and tracked subscriptions are
// replayed on every reconnect.
//
// Options adjust per-process behaviour; door controllers pass
// WithStatusTopic so their presence lands on the door topic instead of
// the service one.
func Connect(cfg config.MQTTConfig, options ...Option) (*Client, error) {
	s := resolveSettings(options)

	c := &Client{
		cfg:         cfg,
		statusTopic: s.statusTopic,
		subs:        make(map[string]subscription),
	}

	opts := pahoOptions(cfg)
	setWill(opts, cfg.Broker.ClientID, s.statusTopic)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The OnConnect callback runs asynchronously and may not have
	// fired yet; mark connected here so IsConnected is true the moment
	// Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// connectionUp runs on every successful (re)connect.
func (c *Client) connectionUp() {
	c.mu.Lock()
	c.connected = true
	replay := make([]subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		replay = append(replay, sub)
	}
	notify := c.onUp
	c.mu.Unlock()

	// Replay failures are left to the next reconnect cycle.
	for _, sub := range replay {
		c.paho.Subscribe(sub.topic, sub.qos, c.guard(sub.handler))
	}

	c.paho.Publish(c.statusTopic, byte(c.cfg.QoS), true,
		statusJSON(c.cfg.Broker.ClientID, "online", ""))

	if notify != nil {
		notify()
	}
}

// connectionDown runs when paho loses the link.
func (c *Client) connectionDown(err error) {
	c.mu.Lock()
	c.connected = false
	notify := c.onDown
	c.mu.Unlock()

	if notify != nil {
		notify(err)
	}
}

// Close announces a graceful offline (distinct from the LWT's crash
// reason) and disconnects, giving in-flight operations a short quiesce.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(c.statusTopic, byte(c.cfg.QoS), true,
			statusJSON(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(ackTimeout)
	}

	c.paho.Disconnect(disconnectQuiesceMs)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected while the link is down. Paho
// keeps redialing in the background, so down is usually transient.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho.IsConnected()
}

// SetOnConnect registers a callback for every successful connect,
// initial and reconnect alike. Used to refresh retained announcements.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onUp = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections. The error
// describes why the link dropped.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDown = callback
	c.mu.Unlock()
}

// SetLogger routes handler errors and recovered panics somewhere
// visible.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// guard adapts a MessageHandler to paho's signature, containing panics
// so one bad payload cannot take down the dispatcher.
func (c *Client) guard(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

// await resolves a paho token into a plain error, wrapping timeouts
// and failures in the operation's sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
