package websocket

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pawmart/internal/domain/entity"
	"pawmart/pkg/errors"
	"pawmart/pkg/logger"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	sendBufferSize   = 64
	eventBufferSize  = 256
)

// Credentials carry the bearer token handed out by the session provider.
type Credentials struct {
	Token string
}

type Options struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

func (o *Options) defaults() {
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
}

// Client owns the single transport connection: connect with credentials,
// detect drops, reconnect with backoff and re-join remembered rooms. It
// never touches the message store; it only emits events upward.
type Client struct {
	serverURL string
	opts      Options

	mu          sync.Mutex
	conn        *websocket.Conn
	send        chan []byte
	state       entity.ConnectionState
	creds       Credentials
	joined      map[string]struct{}
	intentional bool

	recon  *reconnector
	events chan Event
}

func NewClient(serverURL string, opts Options) *Client {
	opts.defaults()
	return &Client{
		serverURL: serverURL,
		opts:      opts,
		state:     entity.ConnectionDisconnected,
		joined:    make(map[string]struct{}),
		recon: &reconnector{
			baseDelay:   opts.ReconnectBaseDelay,
			maxDelay:    opts.ReconnectMaxDelay,
			maxAttempts: opts.MaxReconnectAttempts,
		},
		events: make(chan Event, eventBufferSize),
	}
}

// Events returns the single inbound event channel.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() entity.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JoinedConversations returns the remembered join-set.
func (c *Client) JoinedConversations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

// Connect establishes the transport and re-joins every remembered room
// before the connection is considered ready.
func (c *Client) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.state != entity.ConnectionDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = entity.ConnectionConnecting
	c.creds = creds
	c.intentional = false
	c.mu.Unlock()
	c.emit(StateEvent{State: entity.ConnectionConnecting})

	wsURL := strings.Replace(c.serverURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + creds.Token

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = entity.ConnectionDisconnected
		c.mu.Unlock()
		c.emit(StateEvent{State: entity.ConnectionDisconnected})
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return errors.Auth("websocket credentials rejected", err)
		}
		return errors.Network("websocket dial failed", err)
	}

	send := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.state = entity.ConnectionConnected
	joined := make([]string, 0, len(c.joined))
	for id := range c.joined {
		joined = append(joined, id)
	}
	c.mu.Unlock()
	c.recon.markConnected()

	go c.readLoop(conn)
	go c.writeLoop(conn, send)

	for _, id := range joined {
		if err := c.command(TypeJoin, RoomData{ConversationID: id}); err != nil {
			logger.Warn("websocket: re-join %s failed: %v", id, err)
		}
	}

	c.emit(StateEvent{State: entity.ConnectionConnected})
	logger.Info("websocket: connected, re-joined %d room(s)", len(joined))
	return nil
}

// Disconnect is a scoped teardown: the transport closes, the join-set stays
// so a later Connect restores prior memberships.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.send = nil
	c.state = entity.ConnectionDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.emit(StateEvent{State: entity.ConnectionDisconnected})
	return nil
}

// JoinConversation remembers the room and joins immediately when connected.
// A join while disconnected is deferred and replayed on the next connect.
func (c *Client) JoinConversation(conversationID string) {
	c.mu.Lock()
	c.joined[conversationID] = struct{}{}
	connected := c.state == entity.ConnectionConnected
	c.mu.Unlock()

	if connected {
		if err := c.command(TypeJoin, RoomData{ConversationID: conversationID}); err != nil {
			logger.Warn("websocket: join %s failed: %v", conversationID, err)
		}
	}
}

// LeaveConversation is best-effort; a failed leave only affects server-side
// fan-out optimization.
func (c *Client) LeaveConversation(conversationID string) {
	c.mu.Lock()
	delete(c.joined, conversationID)
	connected := c.state == entity.ConnectionConnected
	c.mu.Unlock()

	if connected {
		if err := c.command(TypeLeave, RoomData{ConversationID: conversationID}); err != nil {
			logger.Warn("websocket: leave %s failed: %v", conversationID, err)
		}
	}
}

func (c *Client) SendMessage(data SendMessageData) error {
	return c.command(TypeSendMessage, data)
}

func (c *Client) UpdateStatus(data UpdateStatusData) error {
	return c.command(TypeUpdateStatus, data)
}

func (c *Client) SetTyping(conversationID string, isTyping bool) error {
	return c.command(TypeTyping, TypingData{ConversationID: conversationID, IsTyping: isTyping})
}

func (c *Client) command(frameType string, data interface{}) error {
	frame, err := NewFrame(frameType, data)
	if err != nil {
		return errors.Internal("marshal frame", err)
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return errors.Internal("marshal frame", err)
	}

	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return errors.Network("not connected", nil)
	}
	select {
	case send <- raw:
		return nil
	default:
		return errors.Network("send buffer full", nil)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	pongWait := 2 * c.opts.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case raw := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already torn down or replaced.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.send = nil
	intentional := c.intentional
	c.state = entity.ConnectionDisconnected
	c.mu.Unlock()

	conn.Close()
	c.emit(StateEvent{State: entity.ConnectionDisconnected})

	if intentional {
		return
	}
	logger.Warn("websocket: connection dropped: %v", cause)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for {
		if !c.recon.shouldReconnect() {
			c.emit(ConnFailedEvent{Err: errors.Network("reconnect attempts exhausted", nil)})
			return
		}
		delay := c.recon.nextDelay()
		logger.Info("websocket: reconnecting in %s (attempt %d)", delay, c.recon.attempt)
		time.Sleep(delay)

		c.mu.Lock()
		creds := c.creds
		intentional := c.intentional
		c.mu.Unlock()
		if intentional {
			return
		}

		err := c.Connect(context.Background(), creds)
		if err == nil {
			return
		}
		if errors.Is(err, "AUTH_ERROR") {
			// Terminal for the session: surfaced, never retried.
			c.emit(ConnFailedEvent{Err: err})
			return
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Warn("websocket: malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case TypeMessageCreated:
		var data MessageCreatedData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("websocket: malformed %s data: %v", frame.Type, err)
			return
		}
		c.emit(MessageCreatedEvent{
			ConversationID: data.ConversationID,
			Message:        data.Message.Entity(),
		})
	case TypeMessageStatus:
		var data MessageStatusData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("websocket: malformed %s data: %v", frame.Type, err)
			return
		}
		c.emit(MessageStatusEvent{
			ConversationID: data.ConversationID,
			ServerID:       entity.ServerID(data.MessageID),
			Status:         entity.Status(data.Status),
		})
	case TypePresence:
		var data PresenceData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("websocket: malformed %s data: %v", frame.Type, err)
			return
		}
		c.emit(PresenceEvent{UserID: data.UserID, Online: data.Online})
	case TypeTyping:
		var data TypingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("websocket: malformed %s data: %v", frame.Type, err)
			return
		}
		c.emit(TypingEvent{
			ConversationID: data.ConversationID,
			UserID:         data.UserID,
			IsTyping:       data.IsTyping,
		})
	case TypeError:
		var data ErrorData
		if json.Unmarshal(frame.Data, &data) == nil {
			logger.Warn("websocket: server error: %s", data.Message)
		}
	default:
		logger.Debug("websocket: ignoring frame type %q", frame.Type)
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.Warn("websocket: dropping event %T, consumer too slow", ev)
	}
}

// reconnector computes exponential backoff with jitter. Attempts reset after
// a connection has held for a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
