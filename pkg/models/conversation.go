package models

import "time"

// Retention modes for a conversation. Enforcement of the ephemeral policy
// is outside this server; the mode is stored and exposed as-is.
const (
	RetentionPermanent = "permanent"
	RetentionEphemeral = "ephemeral"
)

// Participant is the cached display info for one side of a conversation.
// It may be missing for a participant that has never connected.
type Participant struct {
	UserCode string `json:"userCode"`
	Name     string `json:"name"`
}

// Conversation is an exactly-two-participant channel. ID is a pure function
// of the sorted participant codes, so lookups by either ordering of the
// pair resolve to the same record.
type Conversation struct {
	ID                 string                 `json:"id"`
	Participants       []string               `json:"participants"`
	ParticipantDetails map[string]Participant `json:"participantDetails,omitempty"`
	RetentionMode      string                 `json:"retentionMode"`
	LastMessage        string                 `json:"lastMessage,omitempty"`
	LastMessageTime    time.Time              `json:"lastMessageTime"`
	CreatedAt          time.Time              `json:"createdAt"`
}

// HasParticipant reports whether code is one of the two participants.
func (c *Conversation) HasParticipant(code string) bool {
	for _, p := range c.Participants {
		if p == code {
			return true
		}
	}
	return false
}
