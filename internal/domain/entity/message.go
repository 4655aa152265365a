package entity

import "time"

// ClientID is a locally generated identifier for an optimistic message. It is
// never the canonical id and never overlaps the ServerID namespace.
type ClientID string

// ServerID is the authoritative identifier assigned once the backend has
// persisted the message. Empty until acknowledgment.
type ServerID string

type Status string

const (
	StatusPending   Status = "pending" // client-only, never on the wire
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed" // client-only, never on the wire
)

type Message struct {
	ClientID       ClientID               `json:"client_id,omitempty"`
	ServerID       ServerID               `json:"id,omitempty"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	Content        string                 `json:"content"`
	Type           string                 `json:"type"` // "text", "image", "system", "offer"
	Status         Status                 `json:"status"`
	AttachmentURLs []string               `json:"attachment_urls,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Confirmed reports whether the backend has acknowledged this message.
func (m *Message) Confirmed() bool {
	return m.ServerID != ""
}

// Clone returns a copy safe to hand out of the engine's event loop.
func (m *Message) Clone() *Message {
	c := *m
	if m.AttachmentURLs != nil {
		c.AttachmentURLs = append([]string(nil), m.AttachmentURLs...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
