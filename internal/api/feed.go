package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
	"github.com/sloanware/latchline-core/internal/infrastructure/logging"
)

// Wire vocabulary of the event feed. Client-to-server frames carry
// subscribe, unsubscribe or ping; server-to-client frames carry event,
// response, pong or error.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
	msgPong        = "pong"
	msgEvent       = "event"
	msgResponse    = "response"
	msgError       = "error"
)

const (
	// feedChannelDecisions carries one event per recorded validation
	// decision. Event payloads hold prefixes only, never full tokens.
	feedChannelDecisions = "access.decision"

	// feedSendBuffer is the per-client outbound queue. A client that
	// falls this far behind starts losing events rather than stalling
	// the broadcaster.
	feedSendBuffer = 256
)

// FeedMessage is one frame on the event feed, both directions.
type FeedMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// feedSubscription is the payload of subscribe and unsubscribe frames.
type feedSubscription struct {
	Channels []string `json:"channels"`
}

// FeedHub tracks connected event feed clients and fans decision events
// out to them.
type FeedHub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// feedClient is one connected feed consumer. There is a single
// administrative principal, so clients carry no identity beyond the
// ticket consumed at upgrade time.
//
// The send channel is never closed. Shutdown happens through quit,
// which fires exactly once; senders select against it, so there is no
// send-on-closed-channel window to defend against.
type feedClient struct {
	hub  *FeedHub
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	stop sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens in the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewFeedHub creates an empty hub.
func NewFeedHub(cfg config.WebSocketConfig, logger *logging.Logger) *FeedHub {
	return &FeedHub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *FeedHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
}

// Register adds a client to the broadcast set.
func (h *FeedHub) Register(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event feed client connected", "clients", h.ClientCount())
}

// Unregister removes a client and fires its quit signal. Safe to call
// more than once for the same client.
func (h *FeedHub) Unregister(c *feedClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if present {
		c.shutdown()
		h.logger.Debug("event feed client disconnected", "clients", h.ClientCount())
	}
}

// Broadcast queues an event frame for every client subscribed to the
// channel. The client set is snapshotted under the hub lock and the
// sends happen outside it, so a stuck client cannot hold up
// registration.
func (h *FeedHub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(FeedMessage{
		Type:      msgEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("marshalling feed event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.subscribed(channel) && c.trySend(data) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("feed event broadcast", "channel", channel, "recipients", delivered)
	}
}

// ClientCount reports how many clients are connected.
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// newFeedClient builds a client pre-subscribed to the decision channel.
func newFeedClient(hub *FeedHub, conn *websocket.Conn) *feedClient {
	return &feedClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, feedSendBuffer),
		quit: make(chan struct{}),
		subs: map[string]struct{}{feedChannelDecisions: {}},
	}
}

// handleEventsFeed upgrades the HTTP connection to a WebSocket and
// streams decision events. Authentication is a single-use ticket from
// POST /admin/events/ticket.
func (s *Server) handleEventsFeed(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	if !s.tickets.consume(ticket) {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newFeedClient(s.hub, conn)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// shutdown fires the quit signal once and closes the connection.
func (c *feedClient) shutdown() {
	c.stop.Do(func() {
		close(c.quit)
		if c.conn != nil {
			c.conn.Close() //nolint:errcheck // already tearing down
		}
	})
}

// readPump consumes frames from the client until the connection dies,
// then unregisters. The read deadline is pushed forward on every pong
// and on every client frame, so a dashboard that never answers
// protocol pings but keeps sending its own pings stays connected.
func (c *feedClient) readPump() {
	defer c.hub.Unregister(c)

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck // best effort
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("event feed read error", "error", err)
			} else {
				c.hub.logger.Debug("event feed closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idle)) //nolint:errcheck // best effort
		c.handleFrame(frame)
	}
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with periodic pings. Exits on quit or on the first
// write failure.
func (c *feedClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ticker.Stop()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.quit:
			c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort goodbye
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // ping error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}

// handleFrame dispatches one client frame.
func (c *feedClient) handleFrame(data []byte) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case msgSubscribe:
		c.updateSubscriptions(msg, true)
	case msgUnsubscribe:
		c.updateSubscriptions(msg, false)
	case msgPing:
		c.respond(msg.ID, msgPong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscriptions applies a subscribe or unsubscribe frame and
// acknowledges it.
func (c *feedClient) updateSubscriptions(msg FeedMessage, add bool) {
	channels, err := subscriptionChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		if add {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	ackKey := "unsubscribed"
	if add {
		ackKey = "subscribed"
		c.hub.logger.Info("event feed subscription", "channels", channels)
	}
	c.respond(msg.ID, msgResponse, map[string]any{ackKey: channels})
}

// subscriptionChannels extracts the channel list from a frame payload,
// which arrives as whatever encoding/json produced for the any field.
func subscriptionChannels(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var sub feedSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return sub.Channels, nil
}

// trySend queues data for the write pump. Reports false when the
// client has quit or its buffer is full; a slow consumer loses events
// instead of blocking the hub.
func (c *feedClient) trySend(data []byte) bool {
	select {
	case <-c.quit:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// subscribed reports whether the client listens on channel.
func (c *feedClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// respond queues a server frame for this client alone.
func (c *feedClient) respond(id, msgType string, payload any) {
	data, err := json.Marshal(FeedMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError queues an error frame.
func (c *feedClient) sendError(id, message string) {
	c.respond(id, msgError, map[string]string{"message": message})
}
