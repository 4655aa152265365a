package entity

import "time"

// Conversation is a durable thread between a buyer and a seller. It is
// created by the conversation-initiation endpoint; the engine only attaches
// to it.
type Conversation struct {
	ID            string    `json:"id"`
	BuyerID       string    `json:"buyer_id,omitempty"`
	SellerID      string    `json:"seller_id,omitempty"`
	Participants  []string  `json:"participants"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
}
