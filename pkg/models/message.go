package models

import "time"

// Message kinds accepted over the wire.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
)

// ValidKind reports whether k is one of the accepted message kinds.
func ValidKind(k string) bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio:
		return true
	}
	return false
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderUserCode string    `json:"senderUserCode"`
	Content        string    `json:"content"`
	Kind           string    `json:"type"`
	CreatedAt      time.Time `json:"timestamp"`
	Delivered      bool      `json:"delivered,omitempty"`
}
