package repository

import (
	"sort"
	"time"

	"pawmart/internal/domain/entity"
	"pawmart/internal/domain/repository"
	"pawmart/internal/domain/service"
	"pawmart/pkg/errors"
	"pawmart/pkg/logger"
)

const (
	// Tolerance for the content+sender fallback match on broadcast copies
	// that arrive without an echoed client id.
	fallbackMatchWindow = 10 * time.Second

	// How long a status event may wait for its message to be reconciled.
	pendingStatusGrace = 30 * time.Second
)

type conversationLog struct {
	entries  []*entity.Message
	byServer map[entity.ServerID]*entity.Message
	byClient map[entity.ClientID]*entity.Message
	seeded   bool
}

type pendingStatus struct {
	conversationID string
	status         entity.Status
	queuedAt       time.Time
}

// MemoryMessageStore is the authoritative in-memory log per conversation.
// Mutated only from the engine's serialized event loop.
type MemoryMessageStore struct {
	logs    map[string]*conversationLog
	pending map[entity.ServerID]pendingStatus
}

var _ repository.MessageStore = (*MemoryMessageStore)(nil)

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		logs:    make(map[string]*conversationLog),
		pending: make(map[entity.ServerID]pendingStatus),
	}
}

func (s *MemoryMessageStore) log(conversationID string) *conversationLog {
	l, ok := s.logs[conversationID]
	if !ok {
		l = &conversationLog{
			byServer: make(map[entity.ServerID]*entity.Message),
			byClient: make(map[entity.ClientID]*entity.Message),
		}
		s.logs[conversationID] = l
	}
	return l
}

func (s *MemoryMessageStore) AppendOptimistic(conversationID string, draft *entity.Message) entity.ClientID {
	l := s.log(conversationID)

	draft.ConversationID = conversationID
	draft.ServerID = ""
	draft.Status = entity.StatusPending
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	l.entries = append(l.entries, draft)
	l.byClient[draft.ClientID] = draft
	l.sort()
	return draft.ClientID
}

func (s *MemoryMessageStore) Reconcile(conversationID string, serverMsg *entity.Message) *entity.Message {
	l := s.log(conversationID)

	if serverMsg.ServerID == "" {
		logger.Warn("discarding confirmed message without a server id in %s", conversationID)
		return nil
	}

	// Redelivery of a known message: never a second entry. The transport is
	// at-least-once, so this is the common case after a reconnect.
	if existing, ok := l.byServer[serverMsg.ServerID]; ok {
		s.raiseStatus(existing, serverMsg.Status)
		return existing
	}

	// (a) direct correlation via the echoed client id.
	if serverMsg.ClientID != "" {
		if opt, ok := l.byClient[serverMsg.ClientID]; ok && !opt.Confirmed() {
			return s.confirm(l, opt, serverMsg)
		}
	}

	// (b) best-effort fallback: a broadcast copy without a client id may
	// still be the echo of one of our pending or timed-out sends (other
	// tab, redelivery after the optimistic entry lost its ack). Approximate
	// by content, sender and a small time window.
	for _, opt := range l.entries {
		if opt.Status != entity.StatusPending && opt.Status != entity.StatusFailed {
			continue
		}
		if opt.SenderID != serverMsg.SenderID || opt.Content != serverMsg.Content {
			continue
		}
		delta := serverMsg.CreatedAt.Sub(opt.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= fallbackMatchWindow {
			return s.confirm(l, opt, serverMsg)
		}
	}

	// (c) a genuinely new confirmed message.
	msg := serverMsg.Clone()
	msg.ConversationID = conversationID
	if msg.Status == "" || msg.Status == entity.StatusPending {
		msg.Status = entity.StatusSent
	}
	l.entries = append(l.entries, msg)
	l.byServer[msg.ServerID] = msg
	l.sort()
	s.replayPending(msg)
	return msg
}

// confirm merges a server copy into an unconfirmed optimistic entry in place.
func (s *MemoryMessageStore) confirm(l *conversationLog, opt *entity.Message, serverMsg *entity.Message) *entity.Message {
	opt.ServerID = serverMsg.ServerID
	l.byServer[opt.ServerID] = opt

	// A late echo after a send timeout: the ack is authoritative, the send
	// did reach the server, so the entry recovers from FAILED. A confirmed
	// entry must never stay FAILED or a retry would duplicate it.
	if opt.Status == entity.StatusFailed {
		opt.Status = entity.StatusSent
	}
	if next, err := service.Transition(opt.Status, service.EventServerAck); err == nil {
		opt.Status = next
	}
	s.raiseStatus(opt, serverMsg.Status)

	// The server timestamp is authoritative once known. A move is permitted
	// to cause a small re-sort.
	if !serverMsg.CreatedAt.IsZero() && !serverMsg.CreatedAt.Equal(opt.CreatedAt) {
		opt.CreatedAt = serverMsg.CreatedAt
		l.sort()
	}

	s.replayPending(opt)
	return opt
}

// raiseStatus advances a message toward the wire status, never backwards.
func (s *MemoryMessageStore) raiseStatus(msg *entity.Message, wire entity.Status) {
	if wire == "" || service.Reached(msg.Status, wire) {
		return
	}
	if next, err := service.ApplyRemote(msg.Status, wire); err == nil {
		msg.Status = next
	}
}

func (s *MemoryMessageStore) ApplyStatus(conversationID string, id entity.ServerID, status entity.Status) (*entity.Message, error) {
	// The lookup must not allocate a log; a stray status event would
	// otherwise materialize an empty conversation in every snapshot.
	var msg *entity.Message
	if l, ok := s.logs[conversationID]; ok {
		msg = l.byServer[id]
	}
	if msg == nil {
		s.enqueuePending(conversationID, id, status)
		return nil, errors.ReconciliationMiss(
			"status event for unknown message " + string(id))
	}

	next, err := service.ApplyRemote(msg.Status, status)
	if err != nil {
		return nil, err
	}
	msg.Status = next
	return msg, nil
}

// enqueuePending parks a status event until its message is reconciled. Only
// the highest status per message is kept; READ subsumes DELIVERED.
func (s *MemoryMessageStore) enqueuePending(conversationID string, id entity.ServerID, status entity.Status) {
	if prev, ok := s.pending[id]; ok && service.Reached(prev.status, status) {
		return
	}
	s.pending[id] = pendingStatus{
		conversationID: conversationID,
		status:         status,
		queuedAt:       time.Now(),
	}
}

// replayPending applies a parked status event once its message exists.
func (s *MemoryMessageStore) replayPending(msg *entity.Message) {
	p, ok := s.pending[msg.ServerID]
	if !ok {
		return
	}
	delete(s.pending, msg.ServerID)
	s.raiseStatus(msg, p.status)
}

func (s *MemoryMessageStore) SweepPending(now time.Time) {
	for id, p := range s.pending {
		if now.Sub(p.queuedAt) > pendingStatusGrace {
			logger.Warn("dropping stale status event for message %s (queued %s ago)", id, now.Sub(p.queuedAt))
			delete(s.pending, id)
		}
	}
}

func (s *MemoryMessageStore) MarkFailed(clientID entity.ClientID) (*entity.Message, error) {
	for _, l := range s.logs {
		msg, ok := l.byClient[clientID]
		if !ok {
			continue
		}
		next, err := service.Transition(msg.Status, service.EventSendFailed)
		if err != nil {
			return nil, err
		}
		msg.Status = next
		return msg, nil
	}
	return nil, errors.NotFound("optimistic message", nil)
}

func (s *MemoryMessageStore) Remove(clientID entity.ClientID) bool {
	for _, l := range s.logs {
		msg, ok := l.byClient[clientID]
		if !ok {
			continue
		}
		if msg.Confirmed() {
			return false
		}
		delete(l.byClient, clientID)
		for i, e := range l.entries {
			if e == msg {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

// Seed merges server history into the log. Pending entries survive, and so
// do confirmed entries history does not cover: a broadcast reconciled while
// the fetch was in flight must not vanish from the log.
func (s *MemoryMessageStore) Seed(conversationID string, history []*entity.Message) {
	l := s.log(conversationID)

	inHistory := make(map[entity.ServerID]bool, len(history))
	for _, h := range history {
		inHistory[h.ServerID] = true
	}

	var retained []*entity.Message
	for _, e := range l.entries {
		if !e.Confirmed() || !inHistory[e.ServerID] {
			retained = append(retained, e)
		}
	}

	l.entries = l.entries[:0]
	l.byServer = make(map[entity.ServerID]*entity.Message, len(history)+len(retained))
	l.byClient = make(map[entity.ClientID]*entity.Message)

	for _, h := range history {
		if _, ok := l.byServer[h.ServerID]; ok {
			continue
		}
		msg := h.Clone()
		msg.ConversationID = conversationID
		if msg.Status == "" || msg.Status == entity.StatusPending {
			msg.Status = entity.StatusSent
		}
		l.entries = append(l.entries, msg)
		l.byServer[msg.ServerID] = msg
		if msg.ClientID != "" {
			l.byClient[msg.ClientID] = msg
		}
		s.replayPending(msg)
	}

	for _, e := range retained {
		l.entries = append(l.entries, e)
		if e.Confirmed() {
			l.byServer[e.ServerID] = e
		}
		if e.ClientID != "" {
			l.byClient[e.ClientID] = e
		}
	}
	l.sort()
	l.seeded = true
}

func (s *MemoryMessageStore) Messages(conversationID string) []*entity.Message {
	l, ok := s.logs[conversationID]
	if !ok {
		return nil
	}
	return l.entries
}

func (s *MemoryMessageStore) Cached(conversationID string) bool {
	l, ok := s.logs[conversationID]
	return ok && l.seeded
}

func (s *MemoryMessageStore) Evict(conversationID string) {
	delete(s.logs, conversationID)
}

func (s *MemoryMessageStore) ConversationIDs() []string {
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *conversationLog) sort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].CreatedAt.Before(l.entries[j].CreatedAt)
	})
}
