package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairwire/pkg/directory"
	"pairwire/pkg/logger"
	"pairwire/pkg/models"
	"pairwire/pkg/registry"
	"pairwire/pkg/router"
	"pairwire/pkg/store"
	"pairwire/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// clients are anonymous mobile apps connecting from anywhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options are the transport tunables, filled from config.
type Options struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	EventsPerSecond float64
	Burst           int
}

// Hub owns the live connections and dispatches inbound events into the
// registry, directory and router. It is the router's Sender.
type Hub struct {
	reg *registry.Registry
	dir *directory.Directory
	rtr *router.Router

	pingInterval    time.Duration
	pongTimeout     time.Duration
	writeTimeout    time.Duration
	sendBuffer      int
	maxMessageBytes int64

	limits *limiterPool

	mu      sync.Mutex
	clients map[string]*Client
}

// NewHub wires the hub and registers it as the router's sender.
func NewHub(reg *registry.Registry, dir *directory.Directory, rtr *router.Router, opts Options) *Hub {
	h := &Hub{
		reg:             reg,
		dir:             dir,
		rtr:             rtr,
		pingInterval:    opts.PingInterval,
		pongTimeout:     opts.PongTimeout,
		writeTimeout:    opts.WriteTimeout,
		sendBuffer:      opts.SendBuffer,
		maxMessageBytes: opts.MaxMessageBytes,
		limits:          newLimiterPool(opts.EventsPerSecond, opts.Burst),
		clients:         make(map[string]*Client),
	}
	rtr.BindSender(h)
	return h
}

// HandleWS upgrades the request and starts the connection's pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		hub:  h,
	}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.Connections.Set(float64(n))
	logger.Info("client_connected", "conn", c.id, "remote", r.RemoteAddr, "total", n)

	go c.writePump()
	go c.readPump()
}

// Send implements router.Sender. Returns false when the connection is gone
// or was evicted for not draining its buffer.
func (h *Hub) Send(connectionID, event string, payload any) bool {
	frame, err := json.Marshal(ServerEvent{Event: event, Data: payload})
	if err != nil {
		logger.Error("ws_marshal_failed", "event", event, "error", err)
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connectionID]
	if !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		// slow client: evict rather than stall everyone else
		delete(h.clients, connectionID)
		close(c.send)
		logger.Warn("client_evicted_slow", "conn", connectionID)
		return false
	}
}

// broadcastAll sends an event to every live connection.
func (h *Hub) broadcastAll(event string, payload any) {
	h.mu.Lock()
	conns := make([]string, 0, len(h.clients))
	for id := range h.clients {
		conns = append(conns, id)
	}
	h.mu.Unlock()
	for _, id := range conns {
		h.Send(id, event, payload)
	}
}

// unregister tears down a connection: drop it from the client table, the
// identity registry and every room, then announce the new presence list.
// Conversation and message records are untouched.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.id]
	if ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.Connections.Set(float64(n))
	h.limits.Forget(c.id)

	h.rtr.DropConnection(c.id)
	if _, wasRegistered := h.reg.Leave(c.id); wasRegistered {
		h.broadcastAll(EvUserList, h.reg.Snapshot())
	}
	logger.Info("client_disconnected", "conn", c.id, "total", n)
}

// dispatch decodes one inbound frame and runs its handler. A panic in one
// handler is contained here so it never takes down other sessions.
func (h *Hub) dispatch(c *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler_panic", "conn", c.id, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid frame")
		return
	}
	telemetry.Events.WithLabelValues(ev.Event).Inc()

	if !h.limits.Allow(c.id) {
		telemetry.RateLimited.Inc()
		logger.Warn("event_rate_limited", "conn", c.id, "event", ev.Event)
		// the event is dropped, but the client is told so it can back off
		// instead of mistaking the loss for latency
		h.sendError(c, KindRateLimited, "event rate limit exceeded, slow down")
		return
	}

	switch ev.Event {
	case EvRegister:
		h.handleRegister(c, ev.Data)
	case EvStartConversation:
		h.handleStartConversation(c, ev.Data)
	case EvSendMessage:
		h.handleSendMessage(c, ev.Data)
	case EvJoinConversation:
		h.handleJoinConversation(c, ev.Data)
	case EvGetMessages:
		h.handleGetMessages(c, ev.Data)
	case EvGetConversations:
		h.handleGetConversations(c)
	case EvDeleteMessage:
		h.handleDeleteMessage(c, ev.Data)
	default:
		h.sendError(c, KindMalformedRequest, "unknown event "+ev.Event)
	}
}

func (h *Hub) handleRegister(c *Client, data json.RawMessage) {
	var p RegisterPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, KindMalformedRequest, "invalid register payload")
			return
		}
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}
	ident, superseded := h.reg.Join(c.id, p.UserCode, p.Name, p.DeviceType)
	if superseded != "" {
		// the old connection keeps its socket but loses identity and rooms
		h.rtr.DropConnection(superseded)
	}
	h.dir.RefreshDetails(ident.UserCode, ident.Name)

	h.Send(c.id, EvRegistered, ident)
	h.broadcastAll(EvUserList, h.reg.Snapshot())
	// a rejoining user gets their conversation list straight away
	h.Send(c.id, EvConversations, h.dir.ListFor(ident.UserCode))
}

func (h *Hub) handleStartConversation(c *Client, data json.RawMessage) {
	sender, ok := h.reg.ResolveByConnection(c.id)
	if !ok {
		h.sendError(c, KindNotRegistered, "register before starting a conversation")
		return
	}
	var p StartConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid startConversation payload")
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}

	conv, created := h.dir.GetOrCreate(sender.UserCode, p.UserCode, p.MessageMode)
	event := EvConversationUpdated
	if created {
		event = EvNewConversation
	}
	// the reply to the initiator carries the conversation id and doubles as
	// the start acknowledgement
	h.Send(c.id, event, conv)
	if counterpart, live := h.reg.ResolveByCode(p.UserCode); live && counterpart.ConnectionID != c.id {
		h.Send(counterpart.ConnectionID, event, conv)
	}
}

func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid sendMessage payload")
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}
	if _, err := h.rtr.Route(c.id, p.ConversationID, p.Content, p.Type); err != nil {
		h.sendRouteError(c, err)
	}
}

func (h *Hub) handleJoinConversation(c *Client, data json.RawMessage) {
	var p JoinConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid joinConversation payload")
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}
	if err := h.rtr.Join(c.id, p.ConversationID); err != nil {
		h.sendRouteError(c, err)
	}
}

func (h *Hub) handleGetMessages(c *Client, data json.RawMessage) {
	var p GetMessagesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid getMessages payload")
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}
	msgs, err := h.rtr.GetHistory(c.id, p.ConversationID)
	if err != nil {
		h.sendRouteError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.Send(c.id, EvMessages, msgs)
}

func (h *Hub) handleGetConversations(c *Client) {
	sender, ok := h.reg.ResolveByConnection(c.id)
	if !ok {
		h.sendError(c, KindNotRegistered, "register before listing conversations")
		return
	}
	h.Send(c.id, EvConversations, h.dir.ListFor(sender.UserCode))
}

func (h *Hub) handleDeleteMessage(c *Client, data json.RawMessage) {
	var p DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, KindMalformedRequest, "invalid deleteMessage payload")
		return
	}
	if err := p.Validate(); err != nil {
		h.sendError(c, KindMalformedRequest, err.Error())
		return
	}
	if _, err := h.rtr.Delete(c.id, p.MessageID, p.ConversationID); err != nil {
		h.sendRouteError(c, err)
	}
}

// sendRouteError maps core errors onto the wire taxonomy.
func (h *Hub) sendRouteError(c *Client, err error) {
	switch {
	case errors.Is(err, router.ErrNotRegistered):
		h.sendError(c, KindNotRegistered, "connection is not registered")
	case errors.Is(err, store.ErrConversationNotFound):
		h.sendError(c, KindConversationNotFound, "conversation not found")
	case errors.Is(err, store.ErrNotParticipant):
		h.sendError(c, KindNotParticipant, "sender is not a participant of this conversation")
	case errors.Is(err, store.ErrNotSender):
		h.sendError(c, KindNotSender, "only the original sender may delete a message")
	default:
		h.sendError(c, KindMalformedRequest, err.Error())
	}
}

func (h *Hub) sendError(c *Client, kind, message string) {
	telemetry.EventErrors.WithLabelValues(kind).Inc()
	h.Send(c.id, EvError, ErrorPayload{Kind: kind, Message: message})
}

// ConnectionCount returns the number of open connections, for the status
// endpoint.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
