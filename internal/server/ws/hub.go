package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayPage is how many events one replay request returns at most.
	replayPage = 500
)

// EventsPattern matches every event channel. Committed events are published
// on "events.<kind>".
const EventsPattern = "events.*"

// EventSource serves replay requests from the committed event log.
type EventSource interface {
	Events(ctx context.Context, from uint64, limit int) ([]domain.Event, error)
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// clientMsg is the JSON message a client sends to manage subscriptions or to
// request a replay of past events.
type clientMsg struct {
	Action   string   `json:"action"`   // "subscribe", "unsubscribe" or "replay"
	Channels []string `json:"channels"` // channel names, "events.*" style wildcards allowed
	From     uint64   `json:"from,omitempty"`
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages a set of connected WebSocket clients and fans committed events
// out to the clients subscribed to their channel. Events arrive either from
// the signal bus or directly through Broadcast.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	source     EventSource
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	runID      string
	startedAt  time.Time
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures runtime metadata sent to clients on connect and the
// origins allowed to upgrade.
type Config struct {
	RunID          string
	StartedAt      time.Time
	AllowedOrigins []string
}

// NewHub creates a hub. bus and source may be nil; without a bus events are
// only delivered through Broadcast, and without a source replay requests are
// refused.
func NewHub(bus domain.SignalBus, source EventSource, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	origins := cfg.AllowedOrigins
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		source:     source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		runID:     cfg.RunID,
		startedAt: startedAt,
	}
}

// Broadcast queues payload for clients subscribed to channel. It never
// blocks; when the hub is behind the message is dropped.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: payload}:
	default:
		h.logger.Warn("ws: broadcast queue full, message dropped",
			slog.String("channel", channel),
		)
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		go h.subscribeEvents(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			frame, err := json.Marshal(envelope{Type: "event", Channel: msg.channel, Payload: msg.data})
			if err != nil {
				h.logger.Warn("ws: encode frame", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- frame:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeEvents subscribes to every event channel on the bus. Pattern
// subscriptions do not carry the source channel, so it is rebuilt from the
// event kind.
func (h *Hub) subscribeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, EventsPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to events",
			slog.String("pattern", EventsPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to events", slog.String("pattern", EventsPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			channel, err := channelOf(data)
			if err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// channelOf returns "events.<kind>" for an encoded event.
func channelOf(payload []byte) (string, error) {
	var head struct {
		Kind domain.EventKind `json:"kind"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", err
	}
	return "events." + string(head.Kind), nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The optional channels query parameter narrows the
// initial subscription.
// GET /ws?channels=events.item_sold,events.bid_placed
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if q := r.URL.Query().Get("channels"); q != "" {
		for _, ch := range strings.Split(q, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				c.subs[ch] = true
			}
		}
	} else {
		c.subs[EventsPattern] = true
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription and replay requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if json.Unmarshal(message, &msg) != nil {
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.handleSubscription(msg)
		case "replay":
			c.replay(msg.From)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg clientMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range msg.Channels {
		if msg.Action == "subscribe" {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

// replay sends up to replayPage committed events starting at from that match
// the client's subscriptions, followed by a replay_done frame carrying the
// next sequence to request.
func (c *client) replay(from uint64) {
	if c.hub.source == nil {
		c.push(envelope{Type: "error", Payload: json.RawMessage(`{"error":"replay not available"}`)})
		return
	}
	from = max(from, 1)
	events, err := c.hub.source.Events(context.Background(), from, replayPage)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		c.push(envelope{Type: "error", Payload: json.RawMessage(`{"error":"replay failed"}`)})
		return
	}
	next := from
	for _, e := range events {
		next = e.Seq + 1
		channel := "events." + string(e.Kind)
		if !c.isSubscribed(channel) {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		c.push(envelope{Type: "event", Channel: channel, Payload: data})
	}
	done, _ := json.Marshal(map[string]uint64{"next": next})
	c.push(envelope{Type: "replay_done", Payload: done})
}

// sendStatus queues a small JSON envelope so clients can immediately mark the
// connection as healthy even when no events are flowing yet. It runs before
// the client is registered, while send is still private to HandleWS.
func (c *client) sendStatus() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	payload, err := json.Marshal(map[string]any{
		"run_id":         c.hub.runID,
		"uptime_seconds": uptime,
	})
	if err != nil {
		return
	}
	if frame, err := json.Marshal(envelope{Type: "status", Payload: payload}); err == nil {
		c.send <- frame
	}
}

// push queues a frame without blocking. It must not race with the hub
// closing send, so it holds the hub's read lock.
func (c *client) push(env envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Direct match.
	if c.subs[channel] {
		return true
	}

	// Wildcard match: "events.*" matches "events.item_sold".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}

	return false
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
