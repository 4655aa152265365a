package websocket

import (
	"encoding/json"
	"time"

	"pawmart/internal/domain/entity"
)

// Frame types exchanged with the chat backend.
const (
	TypeMessageCreated = "message_created"
	TypeMessageStatus  = "message_status"
	TypePresence       = "presence"
	TypeTyping         = "typing"

	TypeSendMessage  = "send_message"
	TypeUpdateStatus = "update_status"
	TypeJoin         = "join"
	TypeLeave        = "leave"

	TypeError = "error"
)

// Frame is the wire envelope for every event and command.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func NewFrame(frameType string, data interface{}) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      frameType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// WireMessage is the message shape on the wire. The server id travels as
// "id"; the echoed client id is only ever a correlation hint.
type WireMessage struct {
	ID             string   `json:"id,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id,omitempty"`
	Content        string   `json:"content"`
	Type           string   `json:"type,omitempty"`
	Status         string   `json:"status,omitempty"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
}

// Entity converts a wire message into the engine's domain shape.
func (w *WireMessage) Entity() *entity.Message {
	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		createdAt = time.Now()
	}
	return &entity.Message{
		ClientID:       entity.ClientID(w.ClientID),
		ServerID:       entity.ServerID(w.ID),
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		Type:           w.Type,
		Status:         entity.Status(w.Status),
		AttachmentURLs: w.AttachmentURLs,
		CreatedAt:      createdAt,
	}
}

type MessageCreatedData struct {
	ConversationID string      `json:"conversation_id"`
	Message        WireMessage `json:"message"`
}

type MessageStatusData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
}

type PresenceData struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

type SendMessageData struct {
	ConversationID string   `json:"conversation_id"`
	ClientID       string   `json:"client_id"`
	Content        string   `json:"content"`
	Type           string   `json:"type,omitempty"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

type UpdateStatusData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
}

type RoomData struct {
	ConversationID string `json:"conversation_id"`
}

type ErrorData struct {
	Message string `json:"message"`
}
