package usecase

import (
	"pawmart/internal/domain/entity"
	"pawmart/internal/domain/repository"
	"pawmart/pkg/logger"
)

// UnreadAggregator derives unread counts from the message store. It holds no
// independent truth: counts are always recomputed from the log, never
// hand-incremented, so missed events cannot cause drift.
type UnreadAggregator struct {
	selfID string
	store  repository.MessageStore
	counts map[string]int
}

func NewUnreadAggregator(selfID string, store repository.MessageStore) *UnreadAggregator {
	return &UnreadAggregator{
		selfID: selfID,
		store:  store,
		counts: make(map[string]int),
	}
}

// Recompute counts counterpart messages not yet READ for one conversation.
func (a *UnreadAggregator) Recompute(conversationID string) int {
	count := 0
	for _, m := range a.store.Messages(conversationID) {
		if m.SenderID == a.selfID {
			continue
		}
		if m.Status != entity.StatusRead {
			count++
		}
	}
	if count == 0 {
		delete(a.counts, conversationID)
	} else {
		a.counts[conversationID] = count
	}
	return count
}

func (a *UnreadAggregator) Count(conversationID string) int {
	return a.counts[conversationID]
}

// GlobalUnread sums across conversations for the badge.
func (a *UnreadAggregator) GlobalUnread() int {
	total := 0
	for _, c := range a.counts {
		total += c
	}
	return total
}

// Forget drops the cached count for an evicted conversation.
func (a *UnreadAggregator) Forget(conversationID string) {
	delete(a.counts, conversationID)
}

// MarkRead advances every counterpart message at or before the cursor to
// READ through the status machine and recomputes. An empty cursor means
// everything currently visible. Idempotent: a repeated call with the same
// cursor transitions nothing. Returns the ids that actually transitioned.
func (a *UnreadAggregator) MarkRead(conversationID string, upto entity.ServerID) []entity.ServerID {
	messages := a.store.Messages(conversationID)

	cutoff := int(^uint(0) >> 1) // everything
	if upto != "" {
		cutoff = -1
		for i, m := range messages {
			if m.ServerID == upto {
				cutoff = i
				break
			}
		}
		if cutoff == -1 {
			logger.Warn("markRead: cursor %s not found in %s", upto, conversationID)
			a.Recompute(conversationID)
			return nil
		}
	}

	var advanced []entity.ServerID
	for i, m := range messages {
		if i > cutoff {
			break
		}
		if m.SenderID == a.selfID || !m.Confirmed() || m.Status == entity.StatusRead {
			continue
		}
		if _, err := a.store.ApplyStatus(conversationID, m.ServerID, entity.StatusRead); err == nil {
			advanced = append(advanced, m.ServerID)
		}
	}

	a.Recompute(conversationID)
	return advanced
}
