// Package directory owns conversation records and their denormalized
// summaries. Records are keyed by the canonical id derived from the sorted
// participant pair, so either ordering of the pair resolves identically.
package directory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"pairwire/pkg/logger"
	"pairwire/pkg/models"
)

// Persister is the slice of the store the directory needs for summaries.
type Persister interface {
	SaveConversation(c models.Conversation) error
	ListConversations() ([]models.Conversation, error)
}

// Lookup resolves live identities for participant-detail caching. The
// identity registry satisfies this.
type Lookup interface {
	ResolveByCode(userCode string) (models.Identity, bool)
}

// CanonicalID derives the conversation id from a pair of user codes:
// uppercase, lexicographically sorted, joined with an underscore. Pure
// function of the unordered pair.
func CanonicalID(codeA, codeB string) string {
	a := strings.ToUpper(strings.TrimSpace(codeA))
	b := strings.ToUpper(strings.TrimSpace(codeB))
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// Directory holds the conversation records for the process.
type Directory struct {
	mu      sync.Mutex
	convs   map[string]*models.Conversation
	persist Persister
	live    Lookup
}

// New builds a directory on top of the store, reloading every persisted
// summary before serving.
func New(persist Persister, live Lookup) (*Directory, error) {
	d := &Directory{
		convs:   make(map[string]*models.Conversation),
		persist: persist,
		live:    live,
	}
	loaded, err := persist.ListConversations()
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		c := loaded[i]
		d.convs[c.ID] = &c
	}
	logger.Info("directory_loaded", "conversations", len(d.convs))
	return d, nil
}

// GetOrCreate returns the conversation for the unordered pair, creating it
// lazily on first use. The first writer's retention mode wins: an existing
// record is returned unchanged. created reports which path was taken.
func (d *Directory) GetOrCreate(codeA, codeB, retentionMode string) (models.Conversation, bool) {
	id := CanonicalID(codeA, codeB)
	d.mu.Lock()
	if c, ok := d.convs[id]; ok {
		out := *c
		d.mu.Unlock()
		return out, false
	}
	a := strings.ToUpper(strings.TrimSpace(codeA))
	b := strings.ToUpper(strings.TrimSpace(codeB))
	if b < a {
		a, b = b, a
	}
	if retentionMode != models.RetentionEphemeral {
		retentionMode = models.RetentionPermanent
	}
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:                 id,
		Participants:       []string{a, b},
		ParticipantDetails: map[string]models.Participant{},
		RetentionMode:      retentionMode,
		LastMessageTime:    now,
		CreatedAt:          now,
	}
	// cache whatever detail is available for currently-live participants;
	// details stay partial for a counterpart that has never connected
	for _, code := range c.Participants {
		if ident, ok := d.live.ResolveByCode(code); ok {
			c.ParticipantDetails[code] = models.Participant{UserCode: code, Name: ident.Name}
		}
	}
	d.convs[id] = c
	out := *c
	d.mu.Unlock()

	if err := d.persist.SaveConversation(out); err != nil {
		// in-memory record stays authoritative; persistence is best-effort
		logger.Error("conversation_persist_failed", "conversation", id, "error", err)
	}
	logger.Info("conversation_created", "conversation", id, "mode", retentionMode)
	return out, true
}

// Get returns a conversation by id.
func (d *Directory) Get(conversationID string) (models.Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// Participants implements store.Resolver.
func (d *Directory) Participants(conversationID string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[conversationID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(c.Participants))
	copy(out, c.Participants)
	return out, true
}

// ListFor returns every conversation the code participates in, most recent
// lastMessageTime first.
func (d *Directory) ListFor(userCode string) []models.Conversation {
	code := strings.ToUpper(strings.TrimSpace(userCode))
	d.mu.Lock()
	out := make([]models.Conversation, 0)
	for _, c := range d.convs {
		if c.HasParticipant(code) {
			out = append(out, *c)
		}
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// Codes returns every participant code seen across all conversations, used
// to seed the registry's known-code set at startup.
func (d *Directory) Codes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]struct{})
	for _, c := range d.convs {
		for _, p := range c.Participants {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for code := range seen {
		out = append(out, code)
	}
	return out
}

// Touch updates a conversation's summary after an append. Called only by
// the router once the store accepted the message, so the summary never
// diverges from the log's last entry by more than one update cycle.
func (d *Directory) Touch(conversationID, lastMessage string, at time.Time) (models.Conversation, bool) {
	d.mu.Lock()
	c, ok := d.convs[conversationID]
	if !ok {
		d.mu.Unlock()
		return models.Conversation{}, false
	}
	c.LastMessage = lastMessage
	c.LastMessageTime = at
	out := *c
	d.mu.Unlock()

	if err := d.persist.SaveConversation(out); err != nil {
		logger.Error("conversation_persist_failed", "conversation", conversationID, "error", err)
	}
	return out, true
}

// RefreshDetails fills in cached display info for a participant that has
// just come online. Invoked on register so summaries pick up real names.
func (d *Directory) RefreshDetails(userCode, name string) {
	code := strings.ToUpper(strings.TrimSpace(userCode))
	d.mu.Lock()
	var touched []models.Conversation
	for _, c := range d.convs {
		if !c.HasParticipant(code) {
			continue
		}
		if c.ParticipantDetails == nil {
			c.ParticipantDetails = map[string]models.Participant{}
		}
		prev, had := c.ParticipantDetails[code]
		if had && prev.Name == name {
			continue
		}
		c.ParticipantDetails[code] = models.Participant{UserCode: code, Name: name}
		touched = append(touched, *c)
	}
	d.mu.Unlock()
	for _, c := range touched {
		if err := d.persist.SaveConversation(c); err != nil {
			logger.Error("conversation_persist_failed", "conversation", c.ID, "error", err)
		}
	}
}
