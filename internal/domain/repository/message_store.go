package repository

import (
	"time"

	"pawmart/internal/domain/entity"
)

// MessageStore owns the per-conversation ordered message log. It holds both
// confirmed and still-pending optimistic entries and performs reconciliation
// and deduplication. Implementations are not required to be goroutine-safe;
// the sync engine mutates the store exclusively from its serialized event
// loop.
type MessageStore interface {
	// AppendOptimistic inserts a PENDING draft at the end of the log and
	// returns its locally generated ClientID for later correlation.
	AppendOptimistic(conversationID string, draft *entity.Message) entity.ClientID

	// Reconcile merges a server-confirmed message into the log. It matches
	// by echoed ClientID first, then by content+sender within a small time
	// window against still-pending entries, and appends as a new confirmed
	// entry when neither matches. Redelivery of a known ServerID never
	// produces a duplicate. Returns the resulting log entry.
	Reconcile(conversationID string, serverMsg *entity.Message) *entity.Message

	// ApplyStatus advances the status of the message with the given
	// ServerID. A lookup miss is queued and retried when the message is
	// reconciled later; the queued event is dropped after the grace period.
	ApplyStatus(conversationID string, id entity.ServerID, status entity.Status) (*entity.Message, error)

	// MarkFailed transitions an optimistic entry to FAILED.
	MarkFailed(clientID entity.ClientID) (*entity.Message, error)

	// Remove deletes a FAILED optimistic entry, typically before a retry
	// resubmits it as a brand-new message.
	Remove(clientID entity.ClientID) bool

	// Seed merges server history into a conversation's log, keeping
	// still-pending optimistic entries and confirmed entries the history
	// response does not cover.
	Seed(conversationID string, history []*entity.Message)

	// Messages returns the ordered log for a conversation. Entries are
	// owned by the store; callers must clone before handing them out.
	Messages(conversationID string) []*entity.Message

	// Cached reports whether a conversation's log has been seeded.
	Cached(conversationID string) bool

	// Evict drops a conversation's cached log. Safe to rebuild from the
	// history endpoint.
	Evict(conversationID string)

	// ConversationIDs lists conversations with a cached log.
	ConversationIDs() []string

	// SweepPending drops queued status events older than the grace period.
	SweepPending(now time.Time)
}
