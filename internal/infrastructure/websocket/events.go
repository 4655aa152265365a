package websocket

import (
	"pawmart/internal/domain/entity"
)

// Event is an inbound transport event delivered to the sync engine. The
// engine consumes all events from a single channel so that processing stays
// serialized.
type Event interface {
	isEvent()
}

// MessageCreatedEvent carries a server-confirmed message, either the echo of
// one of our sends (ClientID set) or a room broadcast.
type MessageCreatedEvent struct {
	ConversationID string
	Message        *entity.Message
}

// MessageStatusEvent advances the delivery status of a confirmed message.
type MessageStatusEvent struct {
	ConversationID string
	ServerID       entity.ServerID
	Status         entity.Status
}

type PresenceEvent struct {
	UserID string
	Online bool
}

type TypingEvent struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// StateEvent reports a connection state change.
type StateEvent struct {
	State entity.ConnectionState
}

// ConnFailedEvent is emitted when the reconnect budget is exhausted or the
// credentials are rejected. Terminal until the caller reconnects explicitly.
type ConnFailedEvent struct {
	Err error
}

func (MessageCreatedEvent) isEvent() {}
func (MessageStatusEvent) isEvent()  {}
func (PresenceEvent) isEvent()       {}
func (TypingEvent) isEvent()         {}
func (StateEvent) isEvent()          {}
func (ConnFailedEvent) isEvent()     {}
