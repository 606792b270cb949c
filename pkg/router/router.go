// Package router binds connections to conversation rooms and fans inbound
// messages out to every live room member. Membership is resolved through
// the registry's userCode index on every send, so a participant that
// reconnected under a new connection id is still reachable.
package router

import (
	"errors"
	"sync"
	"time"

	"pairwire/pkg/logger"
	"pairwire/pkg/models"
	"pairwire/pkg/store"
	"pairwire/pkg/telemetry"
)

// ErrNotRegistered is returned when an operation arrives from a connection
// with no bound identity.
var ErrNotRegistered = errors.New("connection has no registered identity")

// Sender pushes a server event to one connection. Send reports whether the
// connection is still alive; the router prunes rooms on false.
type Sender interface {
	Send(connectionID, event string, payload any) bool
}

// Identities is the slice of the registry the router needs.
type Identities interface {
	ResolveByConnection(connectionID string) (models.Identity, bool)
	ResolveByCode(userCode string) (models.Identity, bool)
}

// Directory is the slice of the conversation directory the router needs.
type Directory interface {
	Get(conversationID string) (models.Conversation, bool)
	Touch(conversationID, lastMessage string, at time.Time) (models.Conversation, bool)
}

// Router routes messages between a store, a directory and live connections.
type Router struct {
	ids   Identities
	dir   Directory
	store *store.Store
	send  Sender

	rooms *rooms

	// convMu serializes append+delivery per conversation so frames reach
	// the transport in append order even under concurrent senders
	lockMu sync.Mutex
	convMu map[string]*sync.Mutex
}

// New wires a router. The sender is attached later by the transport via
// BindSender because the hub is built on top of the router.
func New(ids Identities, dir Directory, st *store.Store) *Router {
	return &Router{ids: ids, dir: dir, store: st, rooms: newRooms(), convMu: make(map[string]*sync.Mutex)}
}

// convLock returns the mutex serializing mutation and delivery for one
// conversation.
func (r *Router) convLock(conversationID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.convMu[conversationID]
	if !ok {
		l = &sync.Mutex{}
		r.convMu[conversationID] = l
	}
	return l
}

// BindSender attaches the transport used for delivery.
func (r *Router) BindSender(s Sender) { r.send = s }

// Join binds a connection to a conversation's room. Idempotent.
func (r *Router) Join(connectionID, conversationID string) error {
	if _, ok := r.ids.ResolveByConnection(connectionID); !ok {
		return ErrNotRegistered
	}
	if _, ok := r.dir.Get(conversationID); !ok {
		return store.ErrConversationNotFound
	}
	r.rooms.join(conversationID, connectionID)
	logger.Debug("room_joined", "conversation", conversationID, "conn", connectionID)
	return nil
}

// Route appends a message and delivers it, with the refreshed conversation
// summary, to every live connection bound to the room — the sender's own
// connection included, for state convergence. Append through broadcast runs
// under the conversation lock: a message appended later can never be handed
// to the transport before an earlier one.
func (r *Router) Route(senderConnectionID, conversationID, content, kind string) (models.Message, error) {
	sender, ok := r.ids.ResolveByConnection(senderConnectionID)
	if !ok {
		return models.Message{}, ErrNotRegistered
	}

	l := r.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	msg, err := r.store.Append(conversationID, sender.UserCode, content, kind)
	if err != nil {
		return models.Message{}, err
	}
	conv, _ := r.dir.Touch(conversationID, content, msg.CreatedAt)
	telemetry.MessagesRouted.Inc()

	// pull every participant's current connection into the room before
	// delivering, so reconnected participants receive without an explicit
	// rejoin
	for _, code := range conv.Participants {
		if ident, live := r.ids.ResolveByCode(code); live {
			r.rooms.join(conversationID, ident.ConnectionID)
		}
	}

	r.broadcast(conversationID, "newMessage", msg)
	r.broadcast(conversationID, "conversationUpdated", conv)
	return msg, nil
}

// GetHistory returns the conversation's ordered log. Reading history is
// treated as intent to receive live updates, so the connection implicitly
// joins the room.
func (r *Router) GetHistory(connectionID, conversationID string) ([]models.Message, error) {
	if err := r.Join(connectionID, conversationID); err != nil {
		return nil, err
	}
	return r.store.List(conversationID), nil
}

// Delete removes a message (sender-only, enforced by the store) and
// announces the removal to the room.
func (r *Router) Delete(requesterConnectionID, messageID, conversationID string) (bool, error) {
	requester, ok := r.ids.ResolveByConnection(requesterConnectionID)
	if !ok {
		return false, ErrNotRegistered
	}

	// same lock as Route, so the removal notice orders after the message
	l := r.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	removed, err := r.store.Delete(messageID, conversationID, requester.UserCode)
	if err != nil || !removed {
		return removed, err
	}
	r.broadcast(conversationID, "messageDeleted", map[string]string{
		"messageId":      messageID,
		"conversationId": conversationID,
	})
	return true, nil
}

// DropConnection removes a disconnected connection from every room.
// Conversation and message records are untouched.
func (r *Router) DropConnection(connectionID string) {
	r.rooms.drop(connectionID)
}

// broadcast sends an event to every connection in the room, pruning
// members whose connection is gone.
func (r *Router) broadcast(conversationID, event string, payload any) {
	if r.send == nil {
		return
	}
	for _, conn := range r.rooms.members(conversationID) {
		if !r.send.Send(conn, event, payload) {
			r.rooms.leave(conversationID, conn)
			continue
		}
		telemetry.Deliveries.Inc()
	}
}
