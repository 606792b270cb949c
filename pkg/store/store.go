// Package store owns the durable append-only message log. Each conversation
// has an in-memory ordered log that is the source of truth for the life of
// the process; every mutation schedules an asynchronous rewrite of that
// conversation's snapshot key in pebble. The full store is loaded back into
// memory before the server accepts requests.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"pairwire/pkg/logger"
	"pairwire/pkg/models"
	"pairwire/pkg/telemetry"
	"pairwire/pkg/utils"
)

var (
	// ErrConversationNotFound is returned when an operation references a
	// conversation id the directory does not know.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotParticipant is returned when the sender is not one of the
	// conversation's two participants.
	ErrNotParticipant = errors.New("sender is not a participant")
	// ErrNotSender is returned when a delete requester is not the original
	// sender of the message.
	ErrNotSender = errors.New("requester is not the message sender")
)

// Resolver answers whether a conversation exists and who participates in
// it. The conversation directory satisfies this.
type Resolver interface {
	Participants(conversationID string) ([]string, bool)
}

// Key layout:
//
//	conv:<id>:log   ordered JSON array of messages
//	conv:<id>:meta  conversation summary JSON
func logKey(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":log")
}

func metaKey(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":meta")
}

// Store holds the in-memory logs and the pebble handle behind them.
type Store struct {
	db   *pebble.DB
	path string

	mu    sync.Mutex
	logs  map[string][]models.Message
	dirty map[string]struct{}

	resolver Resolver

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Open opens (or creates) the pebble database at path and loads every
// conversation log into memory. The store serves no requests before the
// load completes.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, err
	}
	s := &Store{
		db:    db,
		path:  path,
		logs:  make(map[string][]models.Message),
		dirty: make(map[string]struct{}),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if err := s.loadAll(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.wg.Add(1)
	go s.flushLoop()
	logger.Info("store_opened", "path", path, "conversations", len(s.logs))
	return s, nil
}

// BindResolver attaches the conversation resolver. Must be called before
// the first Append; kept separate from Open because the directory is
// constructed on top of the store.
func (s *Store) BindResolver(r Resolver) {
	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()
}

// loadAll reads every conv:<id>:log key into memory.
func (s *Store) loadAll() error {
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := string(iter.Key())
		if !bytes.HasSuffix(iter.Key(), []byte(":log")) {
			continue
		}
		convID := k[len("conv:") : len(k)-len(":log")]
		var log []models.Message
		if err := json.Unmarshal(iter.Value(), &log); err != nil {
			logger.Error("load_log_invalid_json", "conversation", convID, "error", err)
			return fmt.Errorf("invalid stored log for %s: %w", convID, err)
		}
		s.logs[convID] = log
	}
	return iter.Error()
}

// Append validates the conversation and sender, assigns id and timestamp,
// appends to the in-memory log and schedules a durable flush. The flush is
// not awaited; in-memory state is authoritative until the process exits.
func (s *Store) Append(conversationID, senderUserCode, content, kind string) (models.Message, error) {
	s.mu.Lock()
	r := s.resolver
	s.mu.Unlock()
	if r == nil {
		return models.Message{}, fmt.Errorf("store resolver not bound")
	}
	parts, ok := r.Participants(conversationID)
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	isParticipant := false
	for _, p := range parts {
		if p == senderUserCode {
			isParticipant = true
			break
		}
	}
	if !isParticipant {
		return models.Message{}, ErrNotParticipant
	}

	msg := models.Message{
		ID:             utils.GenMessageID(),
		ConversationID: conversationID,
		SenderUserCode: senderUserCode,
		Content:        content,
		Kind:           kind,
		CreatedAt:      time.Now().UTC(),
		// every message starts undelivered; receipts flip it later
		Delivered: false,
	}

	s.mu.Lock()
	s.logs[conversationID] = append(s.logs[conversationID], msg)
	s.dirty[conversationID] = struct{}{}
	s.mu.Unlock()
	s.scheduleFlush()

	logger.Debug("message_appended", "conversation", conversationID, "id", msg.ID)
	return msg, nil
}

// List returns the conversation's messages in creation order. The returned
// slice is a copy.
func (s *Store) List(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[conversationID]
	out := make([]models.Message, len(log))
	copy(out, log)
	return out
}

// Delete removes a message by id. Removal is sender-only: a requester that
// is not the original sender gets ErrNotSender and nothing is removed. An
// absent id (or an id belonging to a different conversation) is a no-op
// returning false.
func (s *Store) Delete(messageID, conversationID, requesterUserCode string) (bool, error) {
	s.mu.Lock()
	log, ok := s.logs[conversationID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	idx := -1
	for i := range log {
		if log[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	if log[idx].SenderUserCode != requesterUserCode {
		s.mu.Unlock()
		return false, ErrNotSender
	}
	s.logs[conversationID] = append(log[:idx:idx], log[idx+1:]...)
	s.dirty[conversationID] = struct{}{}
	s.mu.Unlock()
	s.scheduleFlush()

	logger.Info("message_deleted", "conversation", conversationID, "id", messageID)
	return true, nil
}

// SaveConversation persists a conversation summary under its meta key.
// Written synchronously; summaries are small and infrequent relative to
// message traffic.
func (s *Store) SaveConversation(c models.Conversation) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := s.db.Set(metaKey(c.ID), b, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	return nil
}

// ListConversations returns every persisted conversation summary.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			logger.Error("load_conversation_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// Close flushes outstanding mutations and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	if err := s.Flush(); err != nil {
		logger.Error("final_flush_failed", "error", err)
	}
	err := s.db.Close()
	if err == nil {
		logger.Info("store_closed", "path", s.path)
	}
	return err
}

// scheduleFlush wakes the flush worker without blocking the request path.
func (s *Store) scheduleFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// flushLoop runs until Close. Failed conversations stay dirty and are
// retried when the next mutation kicks the loop, never immediately.
func (s *Store) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.kick:
			if err := s.Flush(); err != nil {
				logger.Error("flush_failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// Flush writes every dirty conversation log to pebble synchronously. A
// failed write re-marks the conversation dirty and moves on; in-memory
// state stays correct regardless.
func (s *Store) Flush() error {
	s.mu.Lock()
	batch := make(map[string][]byte, len(s.dirty))
	for convID := range s.dirty {
		b, err := json.Marshal(s.logs[convID])
		if err != nil {
			// should not happen for models.Message
			s.mu.Unlock()
			return fmt.Errorf("failed to marshal log for %s: %w", convID, err)
		}
		batch[convID] = b
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	var firstErr error
	for convID, data := range batch {
		if err := s.db.Set(logKey(convID), data, pebble.Sync); err != nil {
			telemetry.FlushFailures.Inc()
			logger.Error("snapshot_write_failed", "conversation", convID, "error", err)
			s.mu.Lock()
			s.dirty[convID] = struct{}{}
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		telemetry.Flushes.Inc()
	}
	return firstErr
}
