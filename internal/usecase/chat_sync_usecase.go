package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawmart/internal/domain/entity"
	"pawmart/internal/domain/repository"
	ws "pawmart/internal/infrastructure/websocket"
	"pawmart/pkg/errors"
	"pawmart/pkg/logger"
)

const (
	defaultSendTimeout    = 10 * time.Second
	defaultCachedLogLimit = 32
	typingTTL             = 5 * time.Second
	sweepInterval         = 5 * time.Second
)

// Snapshot is the consistent view republished to consumers after every
// processed event. It is the sole notification surface; no inner component
// is observed directly.
type Snapshot struct {
	ConnectionState entity.ConnectionState
	Conversations   []ConversationSnapshot
	GlobalUnread    int
	Presence        map[string]bool
	ConnError       error
}

type ConversationSnapshot struct {
	ID            string
	Messages      []entity.Message
	UnreadCount   int
	TypingUserIDs []string
	LastMessage   *entity.Message
	LastMessageAt time.Time
	Open          bool
}

type ChatSyncConfig struct {
	SelfID         string
	SendTimeout    time.Duration
	CachedLogLimit int
}

// ChatSyncUseCase composes the connection manager, message store, status
// machine and unread aggregator. All mutations funnel through one serialized
// event loop: inbound transport events and UI intents are just two producers
// for the same queue, so no two reconciliations for a conversation ever
// interleave.
type ChatSyncUseCase struct {
	selfID      string
	sendTimeout time.Duration
	cacheLimit  int

	store     repository.MessageStore
	transport Transport
	history   HistoryService
	unread    *UnreadAggregator

	intents chan func()
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool

	// Owned by the event loop.
	openConvs   map[string]bool
	closedOrder []string
	typing      map[string]map[string]time.Time
	presence    map[string]bool
	connState   entity.ConnectionState
	connErr     error
	sendTimers  map[entity.ClientID]*time.Timer

	listenerMu sync.Mutex
	listeners  []func(Snapshot)

	snapMu   sync.RWMutex
	snapshot Snapshot
}

func NewChatSyncUseCase(cfg ChatSyncConfig, store repository.MessageStore, transport Transport, history HistoryService) *ChatSyncUseCase {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.CachedLogLimit == 0 {
		cfg.CachedLogLimit = defaultCachedLogLimit
	}
	return &ChatSyncUseCase{
		selfID:      cfg.SelfID,
		sendTimeout: cfg.SendTimeout,
		cacheLimit:  cfg.CachedLogLimit,
		store:       store,
		transport:   transport,
		history:     history,
		unread:      NewUnreadAggregator(cfg.SelfID, store),
		intents:     make(chan func(), 128),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		openConvs:   make(map[string]bool),
		typing:      make(map[string]map[string]time.Time),
		presence:    make(map[string]bool),
		connState:   entity.ConnectionDisconnected,
		sendTimers:  make(map[entity.ClientID]*time.Timer),
	}
}

// Start launches the event loop and connects the transport. An auth failure
// is returned as-is and is terminal for the session.
func (uc *ChatSyncUseCase) Start(ctx context.Context, creds ws.Credentials) error {
	uc.started = true
	go uc.run()
	return uc.transport.Connect(ctx, creds)
}

// Stop tears the engine down. Unacknowledged optimistic messages are lost
// and must be retried by the user after a restart.
func (uc *ChatSyncUseCase) Stop() {
	uc.once.Do(func() {
		uc.transport.Disconnect()
		close(uc.quit)
		if uc.started {
			<-uc.done
		}
	})
}

// Open joins the conversation room, seeds the log from the history endpoint
// when not cached, and marks counterpart messages read up to the latest
// visible message.
func (uc *ChatSyncUseCase) Open(ctx context.Context, conversationID string) error {
	uc.transport.JoinConversation(conversationID)

	var cached bool
	uc.do(func() {
		cached = uc.store.Cached(conversationID)
	})

	var seed []*entity.Message
	if !cached {
		messages, err := uc.history.ConversationHistory(ctx, conversationID)
		if err != nil {
			return err
		}
		seed = messages
	}

	uc.do(func() {
		if seed != nil {
			uc.store.Seed(conversationID, seed)
		}
		uc.openConvs[conversationID] = true
		uc.dropFromLRU(conversationID)
		uc.markReadLocked(conversationID, "")
		uc.publish()
	})
	return nil
}

// Close leaves the room but retains the cached log so reopening is instant,
// until the LRU cap reclaims it.
func (uc *ChatSyncUseCase) Close(conversationID string) {
	uc.transport.LeaveConversation(conversationID)
	uc.do(func() {
		delete(uc.openConvs, conversationID)
		if uc.store.Cached(conversationID) {
			uc.dropFromLRU(conversationID)
			uc.closedOrder = append(uc.closedOrder, conversationID)
		}
		uc.evictOverLimit()
		uc.publish()
	})
}

// Send appends an optimistic PENDING entry and dispatches it. The returned
// ClientID correlates the eventual confirmation. Failures surface on the
// message itself as FAILED, never as an error here.
func (uc *ChatSyncUseCase) Send(conversationID, content string) entity.ClientID {
	clientID := entity.ClientID(uuid.NewString())
	createdAt := time.Now()

	uc.do(func() {
		draft := &entity.Message{
			ClientID:  clientID,
			SenderID:  uc.selfID,
			Content:   content,
			Type:      "text",
			CreatedAt: createdAt,
		}
		uc.store.AppendOptimistic(conversationID, draft)
		uc.dispatchSendLocked(conversationID, draft)
		uc.publish()
	})
	return clientID
}

// Retry resubmits a FAILED message as a brand-new optimistic send and drops
// the old entry. Retrying is always an explicit user action.
func (uc *ChatSyncUseCase) Retry(conversationID string, clientID entity.ClientID) entity.ClientID {
	newID := entity.ClientID(uuid.NewString())
	retried := false

	uc.do(func() {
		var failed *entity.Message
		for _, m := range uc.store.Messages(conversationID) {
			if m.ClientID == clientID && m.Status == entity.StatusFailed {
				failed = m
				break
			}
		}
		if failed == nil {
			return
		}
		draft := &entity.Message{
			ClientID:       newID,
			SenderID:       uc.selfID,
			Content:        failed.Content,
			Type:           failed.Type,
			AttachmentURLs: failed.AttachmentURLs,
			CreatedAt:      time.Now(),
		}
		uc.store.Remove(clientID)
		uc.store.AppendOptimistic(conversationID, draft)
		uc.dispatchSendLocked(conversationID, draft)
		retried = true
		uc.publish()
	})

	if !retried {
		return ""
	}
	return newID
}

// MarkRead advances counterpart messages up to the cursor and notifies the
// backend with a single read receipt for the cursor.
func (uc *ChatSyncUseCase) MarkRead(conversationID string, upto entity.ServerID) {
	uc.do(func() {
		uc.markReadLocked(conversationID, upto)
		uc.publish()
	})
}

// SetTyping forwards the local typing state; it keeps no local state for
// our own indicator.
func (uc *ChatSyncUseCase) SetTyping(conversationID string, isTyping bool) {
	if err := uc.transport.SetTyping(conversationID, isTyping); err != nil {
		logger.Debug("typing indicator not sent: %v", err)
	}
}

// OnStateChange subscribes for snapshot updates. Listeners run on the event
// loop and must not call back into blocking engine methods.
func (uc *ChatSyncUseCase) OnStateChange(listener func(Snapshot)) {
	uc.listenerMu.Lock()
	uc.listeners = append(uc.listeners, listener)
	uc.listenerMu.Unlock()
}

// Snapshot returns the most recently published state.
func (uc *ChatSyncUseCase) Snapshot() Snapshot {
	uc.snapMu.RLock()
	defer uc.snapMu.RUnlock()
	return uc.snapshot
}

// GlobalUnread is a convenience over the last snapshot.
func (uc *ChatSyncUseCase) GlobalUnread() int {
	return uc.Snapshot().GlobalUnread
}

func (uc *ChatSyncUseCase) run() {
	defer close(uc.done)
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-uc.quit:
			for _, t := range uc.sendTimers {
				t.Stop()
			}
			return
		case fn := <-uc.intents:
			fn()
		case ev := <-uc.transport.Events():
			uc.handleEvent(ev)
		case <-sweep.C:
			uc.store.SweepPending(time.Now())
			if uc.expireTyping(time.Now()) {
				uc.publish()
			}
		}
	}
}

func (uc *ChatSyncUseCase) handleEvent(ev ws.Event) {
	switch e := ev.(type) {
	case ws.MessageCreatedEvent:
		uc.handleMessageCreated(e)
	case ws.MessageStatusEvent:
		if _, err := uc.store.ApplyStatus(e.ConversationID, e.ServerID, e.Status); err != nil {
			// Stale, duplicated or premature status events are logged and
			// swallowed; visible status never regresses.
			logger.Warn("status event ignored for %s: %v", e.ServerID, err)
		}
		uc.unread.Recompute(e.ConversationID)
		uc.publish()
	case ws.TypingEvent:
		uc.applyTyping(e)
		uc.publish()
	case ws.PresenceEvent:
		uc.presence[e.UserID] = e.Online
		uc.publish()
	case ws.StateEvent:
		uc.connState = e.State
		if e.State == entity.ConnectionConnected {
			uc.connErr = nil
		}
		uc.publish()
	case ws.ConnFailedEvent:
		uc.connState = entity.ConnectionDisconnected
		uc.connErr = e.Err
		logger.Error("connection failed permanently: %v", e.Err)
		uc.publish()
	}
}

func (uc *ChatSyncUseCase) handleMessageCreated(e ws.MessageCreatedEvent) {
	msg := uc.store.Reconcile(e.ConversationID, e.Message)
	if msg == nil {
		return
	}

	if msg.ClientID != "" {
		uc.cancelSendTimer(msg.ClientID)
	}

	if msg.SenderID != uc.selfID {
		// Acknowledge receipt. An open conversation reads the message
		// immediately; READ legally short-circuits DELIVERED.
		target := entity.StatusDelivered
		if uc.openConvs[e.ConversationID] {
			target = entity.StatusRead
		}
		if _, err := uc.store.ApplyStatus(e.ConversationID, msg.ServerID, target); err != nil {
			logger.Debug("local receipt skipped for %s: %v", msg.ServerID, err)
		}
		if err := uc.transport.UpdateStatus(ws.UpdateStatusData{
			ConversationID: e.ConversationID,
			MessageID:      string(msg.ServerID),
			Status:         string(target),
		}); err != nil {
			logger.Warn("receipt for %s not sent: %v", msg.ServerID, err)
		}
	}

	uc.unread.Recompute(e.ConversationID)
	uc.publish()
}

// dispatchSendLocked runs on the event loop: sends the optimistic draft over
// the transport and arms its acknowledgment timer.
func (uc *ChatSyncUseCase) dispatchSendLocked(conversationID string, draft *entity.Message) {
	err := uc.transport.SendMessage(ws.SendMessageData{
		ConversationID: conversationID,
		ClientID:       string(draft.ClientID),
		Content:        draft.Content,
		Type:           draft.Type,
		AttachmentURLs: draft.AttachmentURLs,
		CreatedAt:      draft.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Warn("send %s failed: %v", draft.ClientID, err)
		if _, ferr := uc.store.MarkFailed(draft.ClientID); ferr != nil {
			logger.Warn("mark failed %s: %v", draft.ClientID, ferr)
		}
		return
	}

	clientID := draft.ClientID
	uc.sendTimers[clientID] = time.AfterFunc(uc.sendTimeout, func() {
		uc.enqueue(func() {
			delete(uc.sendTimers, clientID)
			if _, err := uc.store.MarkFailed(clientID); err == nil {
				logger.Warn("send %s: %v", clientID,
					errors.SendTimeout("no acknowledgment within "+uc.sendTimeout.String()))
				uc.publish()
			}
		})
	})
}

func (uc *ChatSyncUseCase) cancelSendTimer(clientID entity.ClientID) {
	if t, ok := uc.sendTimers[clientID]; ok {
		t.Stop()
		delete(uc.sendTimers, clientID)
	}
}

func (uc *ChatSyncUseCase) markReadLocked(conversationID string, upto entity.ServerID) {
	advanced := uc.unread.MarkRead(conversationID, upto)
	if len(advanced) == 0 {
		return
	}
	// One receipt for the cursor; the backend applies it to everything at
	// or before it.
	cursor := advanced[len(advanced)-1]
	if err := uc.transport.UpdateStatus(ws.UpdateStatusData{
		ConversationID: conversationID,
		MessageID:      string(cursor),
		Status:         string(entity.StatusRead),
	}); err != nil {
		logger.Warn("read receipt for %s not sent: %v", cursor, err)
	}
}

func (uc *ChatSyncUseCase) applyTyping(e ws.TypingEvent) {
	peers, ok := uc.typing[e.ConversationID]
	if !ok {
		peers = make(map[string]time.Time)
		uc.typing[e.ConversationID] = peers
	}
	if e.IsTyping {
		peers[e.UserID] = time.Now().Add(typingTTL)
	} else {
		delete(peers, e.UserID)
	}
}

func (uc *ChatSyncUseCase) expireTyping(now time.Time) bool {
	changed := false
	for conv, peers := range uc.typing {
		for user, deadline := range peers {
			if now.After(deadline) {
				delete(peers, user)
				changed = true
			}
		}
		if len(peers) == 0 {
			delete(uc.typing, conv)
		}
	}
	return changed
}

func (uc *ChatSyncUseCase) dropFromLRU(conversationID string) {
	for i, id := range uc.closedOrder {
		if id == conversationID {
			uc.closedOrder = append(uc.closedOrder[:i], uc.closedOrder[i+1:]...)
			return
		}
	}
}

func (uc *ChatSyncUseCase) evictOverLimit() {
	for len(uc.closedOrder) > uc.cacheLimit {
		victim := uc.closedOrder[0]
		uc.closedOrder = uc.closedOrder[1:]
		uc.store.Evict(victim)
		uc.unread.Forget(victim)
		delete(uc.typing, victim)
		logger.Debug("evicted cached log for %s", victim)
	}
}

// publish rebuilds the snapshot and notifies listeners. Runs on the event
// loop only, so consumers never observe a torn state.
func (uc *ChatSyncUseCase) publish() {
	now := time.Now()
	convIDs := uc.store.ConversationIDs()
	conversations := make([]ConversationSnapshot, 0, len(convIDs))

	for _, id := range convIDs {
		entries := uc.store.Messages(id)
		messages := make([]entity.Message, 0, len(entries))
		for _, m := range entries {
			messages = append(messages, *m.Clone())
		}

		var last *entity.Message
		var lastAt time.Time
		if len(messages) > 0 {
			last = &messages[len(messages)-1]
			lastAt = last.CreatedAt
		}

		var typingUsers []string
		for user, deadline := range uc.typing[id] {
			if now.Before(deadline) {
				typingUsers = append(typingUsers, user)
			}
		}
		sort.Strings(typingUsers)

		conversations = append(conversations, ConversationSnapshot{
			ID:            id,
			Messages:      messages,
			UnreadCount:   uc.unread.Count(id),
			TypingUserIDs: typingUsers,
			LastMessage:   last,
			LastMessageAt: lastAt,
			Open:          uc.openConvs[id],
		})
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt.After(conversations[j].LastMessageAt)
	})

	presence := make(map[string]bool, len(uc.presence))
	for k, v := range uc.presence {
		presence[k] = v
	}

	snap := Snapshot{
		ConnectionState: uc.connState,
		Conversations:   conversations,
		GlobalUnread:    uc.unread.GlobalUnread(),
		Presence:        presence,
		ConnError:       uc.connErr,
	}

	uc.snapMu.Lock()
	uc.snapshot = snap
	uc.snapMu.Unlock()

	uc.listenerMu.Lock()
	listeners := append([]func(Snapshot){}, uc.listeners...)
	uc.listenerMu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
}

// do runs fn on the event loop and waits for it.
func (uc *ChatSyncUseCase) do(fn func()) {
	done := make(chan struct{})
	select {
	case uc.intents <- func() { fn(); close(done) }:
	case <-uc.quit:
		return
	}
	select {
	case <-done:
	case <-uc.quit:
	}
}

// enqueue runs fn on the event loop without waiting.
func (uc *ChatSyncUseCase) enqueue(fn func()) {
	select {
	case uc.intents <- fn:
	case <-uc.quit:
	}
}
