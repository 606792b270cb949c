// Package ws is the WebSocket transport: one persistent bidirectional
// connection per client carrying JSON-framed events. Payloads are a closed
// set of typed variants validated here, before anything reaches core logic.
package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"pairwire/pkg/models"
)

// Client-to-server event names.
const (
	EvRegister          = "register"
	EvStartConversation = "startConversation"
	EvSendMessage       = "sendMessage"
	EvJoinConversation  = "joinConversation"
	EvGetMessages       = "getMessages"
	EvGetConversations  = "getConversations"
	EvDeleteMessage     = "deleteMessage"
)

// Server-to-client event names.
const (
	EvRegistered          = "registered"
	EvUserList            = "userList"
	EvConversations       = "conversations"
	EvNewConversation     = "newConversation"
	EvConversationUpdated = "conversationUpdated"
	EvNewMessage          = "newMessage"
	EvMessages            = "messages"
	EvMessageDeleted      = "messageDeleted"
	EvError               = "error"
)

// Error kinds surfaced in error events.
const (
	KindNotRegistered        = "NotRegistered"
	KindConversationNotFound = "ConversationNotFound"
	KindNotParticipant       = "NotParticipant"
	KindNotSender            = "NotSender"
	KindMalformedRequest     = "MalformedRequest"
	KindRateLimited          = "RateLimited"
)

// ClientEvent is the inbound frame. Data is decoded per event name.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the outbound frame.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RegisterPayload carries an optional code, name and device type. All
// fields may be absent: an anonymous join gets a generated code and name.
type RegisterPayload struct {
	UserCode   string `json:"userCode"`
	Name       string `json:"name"`
	DeviceType string `json:"deviceType"`
}

// Validate accepts an absent code; a provided one must be 6 to 8
// alphanumeric characters after normalization. The registry behind this
// boundary never rejects, so malformed codes have to be stopped here.
func (p *RegisterPayload) Validate() error {
	code := strings.ToUpper(strings.TrimSpace(p.UserCode))
	if code == "" {
		return nil
	}
	if len(code) < 6 || len(code) > 8 {
		return fmt.Errorf("userCode must be 6 to 8 characters")
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("userCode must be uppercase letters and digits")
		}
	}
	return nil
}

// StartConversationPayload names the counterpart and the retention mode.
type StartConversationPayload struct {
	UserCode    string `json:"userCode"`
	MessageMode string `json:"messageMode"`
}

func (p *StartConversationPayload) Validate() error {
	if p.UserCode == "" {
		return fmt.Errorf("missing userCode")
	}
	return nil
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

func (p *SendMessagePayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("missing conversationId")
	}
	if p.Content == "" {
		return fmt.Errorf("missing content")
	}
	if p.Type == "" {
		p.Type = models.KindText
	}
	if !models.ValidKind(p.Type) {
		return fmt.Errorf("unknown message type %q", p.Type)
	}
	return nil
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

func (p *JoinConversationPayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("missing conversationId")
	}
	return nil
}

type GetMessagesPayload struct {
	ConversationID string `json:"conversationId"`
}

func (p *GetMessagesPayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("missing conversationId")
	}
	return nil
}

type DeleteMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

func (p *DeleteMessagePayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("missing messageId")
	}
	if p.ConversationID == "" {
		return fmt.Errorf("missing conversationId")
	}
	return nil
}
