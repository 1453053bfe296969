// ABOUTME: WebSocket hub managing live connections and implementing the relay Emitter
// ABOUTME: Runs read/write pumps per connection and dispatches inbound events to the relay

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlor-chat/parlor/internal/relay"
	"github.com/parlor-chat/parlor/internal/store"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size in bytes
	maxMessageSize = 64 * 1024

	// Outbound channel buffer per connection
	sendBufferSize = 64
)

// EventHandler is the relay-side contract the hub dispatches into.
type EventHandler interface {
	OnConnect(connectionID string)
	OnRegister(connectionID, userID, displayName string)
	OnSendMessage(ctx context.Context, senderID, receiverID, content, receiverConnectionID string) (*store.Message, error)
	OnEditMessage(ctx context.Context, conversationID, messageID, newContent, receiverID string) (*store.Message, error)
	OnDisconnect(connectionID string)
}

// connection is one live WebSocket with its outbound queue. The send channel
// is never closed; done signals the write pump to exit so that a disconnect
// cannot race an in-flight emit into a send on a closed channel.
type connection struct {
	id   string
	ws   *websocket.Conn
	send chan outbound
	done chan struct{}
}

// Hub owns all live WebSocket connections. It implements relay.Emitter:
// emits are non-blocking and drop for slow consumers rather than stalling
// the event that triggered them.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	handler  EventHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub allowing the given browser origins. An empty origin
// list allows all origins (development mode).
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		conns: make(map[string]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger.With("component", "hub"),
	}
}

// SetHandler binds the relay. Must be called before serving connections.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// HandleWS upgrades an HTTP request to a WebSocket connection and runs its
// read loop until the peer goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:   uuid.New().String(),
		ws:   ws,
		send: make(chan outbound, sendBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("connection opened", "connection_id", c.id, "total", total)
	h.handler.OnConnect(c.id)

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

// readPump consumes inbound events until the connection drops, then tears
// the connection down and notifies the relay.
func (h *Hub) readPump(ctx context.Context, c *connection) {
	defer func() {
		h.remove(c)
		h.handler.OnDisconnect(c.id)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("connection read error", "connection_id", c.id, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.emitError(c, "malformed event envelope")
			continue
		}
		h.dispatch(ctx, c, &env)
	}
}

// dispatch routes one inbound envelope to the relay.
func (h *Hub) dispatch(ctx context.Context, c *connection, env *Envelope) {
	switch env.Event {
	case relay.EventRegisterUser:
		var ev registerUserEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil || ev.UserID == "" {
			h.emitError(c, "register-user requires userId")
			return
		}
		h.handler.OnRegister(c.id, ev.UserID, ev.Username)

	case relay.EventPrivateMessage:
		var ev privateMessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.emitError(c, "malformed private-message payload")
			return
		}
		if _, err := h.handler.OnSendMessage(ctx, ev.SenderID, ev.ReceiverID, ev.Content, ev.ReceiverSocketID); err != nil {
			h.emitError(c, err.Error())
		}

	case relay.EventMessageEdited:
		var ev messageEditedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			h.emitError(c, "malformed message-edited payload")
			return
		}
		if _, err := h.handler.OnEditMessage(ctx, ev.ChatID, ev.MessageID, ev.Content, ev.ReceiverID); err != nil {
			h.emitError(c, err.Error())
		}

	default:
		h.logger.Debug("unknown event", "event", env.Event, "connection_id", c.id)
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// pings. Exits when the queue closes or a write fails.
func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				h.logger.Debug("write failed", "connection_id", c.id, "error", err)
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove drops the connection from the hub and stops its write pump. A
// concurrent broadcast that already snapshotted this connection may still
// queue onto send; those events are simply never drained.
func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	close(c.done)
	h.logger.Info("connection closed", "connection_id", c.id, "total", len(h.conns))
}

// emitError reports a local diagnostic back to the originating connection.
func (h *Hub) emitError(c *connection, message string) {
	select {
	case c.send <- outbound{Event: relay.EventError, Data: errorEvent{Message: message}}:
	default:
	}
}

// EmitToConnection queues an event for a single connection. Returns an error
// when the connection is unknown; drops silently when its queue is full.
func (h *Hub) EmitToConnection(connectionID, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s not found", connectionID)
	}

	select {
	case c.send <- outbound{Event: event, Data: payload}:
	default:
		// Slow consumer: drop rather than block the triggering event
		h.logger.Debug("dropped event for slow connection",
			"connection_id", connectionID,
			"event", event)
	}
	return nil
}

// BroadcastAll queues an event for every live connection.
func (h *Hub) BroadcastAll(event string, payload any) error {
	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- outbound{Event: event, Data: payload}:
		default:
			h.logger.Debug("dropped broadcast for slow connection",
				"connection_id", c.id,
				"event", event)
		}
	}
	return nil
}
