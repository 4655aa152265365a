package usecase

import (
	"context"

	"pawmart/internal/domain/entity"
	ws "pawmart/internal/infrastructure/websocket"
)

// Transport is the connection manager surface the sync engine depends on.
// The concrete implementation is infrastructure/websocket.Client; tests
// substitute a double.
type Transport interface {
	Connect(ctx context.Context, creds ws.Credentials) error
	Disconnect() error
	JoinConversation(conversationID string)
	LeaveConversation(conversationID string)
	JoinedConversations() []string
	State() entity.ConnectionState

	SendMessage(data ws.SendMessageData) error
	UpdateStatus(data ws.UpdateStatusData) error
	SetTyping(conversationID string, isTyping bool) error

	Events() <-chan ws.Event
}

// HistoryService seeds the message store when a conversation is opened
// without a cached log.
type HistoryService interface {
	ConversationHistory(ctx context.Context, conversationID string) ([]*entity.Message, error)
}
