package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	ws "pawmart/internal/infrastructure/websocket"
	"pawmart/pkg/logger"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
)

// Client represents one WebSocket connection to the dev backend.
type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]bool
}

// Hub is the in-memory chat backend: connected clients, conversation rooms
// and the canonical message log. It exists for local development and
// integration tests; nothing here survives a restart.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	log     map[string][]*ws.WireMessage
	byID    map[string]*ws.WireMessage
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		log:     make(map[string][]*ws.WireMessage),
		byID:    make(map[string]*ws.WireMessage),
	}
}

// History returns a copy of a conversation's log.
func (h *Hub) History(conversationID string) []ws.WireMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ws.WireMessage, 0, len(h.log[conversationID]))
	for _, m := range h.log[conversationID] {
		out = append(out, *m)
	}
	return out
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	logger.Info("devserver: client connected: %s", client.UserID)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		for room := range client.rooms {
			delete(h.rooms[room], client)
		}
		close(client.send)
	}
	h.mu.Unlock()
	logger.Info("devserver: client disconnected: %s", client.UserID)
}

// ServeClient runs the read loop for a freshly upgraded connection.
func (h *Hub) ServeClient(client *Client) {
	h.register(client)
	go client.writePump()
	client.readPump(h)
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("devserver: read error from %s: %v", c.UserID, err)
			}
			return
		}
		h.handleFrame(c, raw)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for raw := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) handleFrame(client *Client, raw []byte) {
	var frame ws.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(client, "invalid frame")
		return
	}

	switch frame.Type {
	case ws.TypeJoin:
		var data ws.RoomData
		if json.Unmarshal(frame.Data, &data) != nil || data.ConversationID == "" {
			h.sendError(client, "invalid join")
			return
		}
		h.join(client, data.ConversationID)
	case ws.TypeLeave:
		var data ws.RoomData
		if json.Unmarshal(frame.Data, &data) != nil || data.ConversationID == "" {
			h.sendError(client, "invalid leave")
			return
		}
		h.leave(client, data.ConversationID)
	case ws.TypeSendMessage:
		var data ws.SendMessageData
		if json.Unmarshal(frame.Data, &data) != nil || data.ConversationID == "" || data.Content == "" {
			h.sendError(client, "invalid send_message")
			return
		}
		h.handleSendMessage(client, data)
	case ws.TypeUpdateStatus:
		var data ws.UpdateStatusData
		if json.Unmarshal(frame.Data, &data) != nil || data.MessageID == "" {
			h.sendError(client, "invalid update_status")
			return
		}
		h.handleUpdateStatus(client, data)
	case ws.TypeTyping:
		var data ws.TypingData
		if json.Unmarshal(frame.Data, &data) != nil || data.ConversationID == "" {
			h.sendError(client, "invalid typing")
			return
		}
		data.UserID = client.UserID
		h.broadcastExcept(data.ConversationID, client, ws.TypeTyping, data)
	default:
		logger.Debug("devserver: unknown frame type %q from %s", frame.Type, client.UserID)
		h.sendError(client, "unknown frame type")
	}
}

func (h *Hub) join(client *Client, conversationID string) {
	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[conversationID] = room
	}
	room[client] = true
	client.rooms[conversationID] = true
	h.mu.Unlock()

	h.broadcastExcept(conversationID, client, ws.TypePresence, ws.PresenceData{
		UserID:   client.UserID,
		Online:   true,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) leave(client *Client, conversationID string) {
	h.mu.Lock()
	delete(h.rooms[conversationID], client)
	delete(client.rooms, conversationID)
	h.mu.Unlock()

	h.broadcastExcept(conversationID, client, ws.TypePresence, ws.PresenceData{
		UserID:   client.UserID,
		Online:   false,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) handleSendMessage(client *Client, data ws.SendMessageData) {
	msg := &ws.WireMessage{
		ID:             uuid.NewString(),
		ClientID:       data.ClientID,
		ConversationID: data.ConversationID,
		SenderID:       client.UserID,
		Content:        data.Content,
		Type:           data.Type,
		Status:         "sent",
		AttachmentURLs: data.AttachmentURLs,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if msg.Type == "" {
		msg.Type = "text"
	}

	h.mu.Lock()
	h.log[data.ConversationID] = append(h.log[data.ConversationID], msg)
	h.byID[msg.ID] = msg
	hasRecipients := false
	for peer := range h.rooms[data.ConversationID] {
		if peer.UserID != client.UserID {
			hasRecipients = true
			break
		}
	}
	if hasRecipients {
		msg.Status = "delivered"
	}
	h.mu.Unlock()

	h.broadcast(data.ConversationID, ws.TypeMessageCreated, ws.MessageCreatedData{
		ConversationID: data.ConversationID,
		Message:        *msg,
	})

	if hasRecipients {
		h.broadcast(data.ConversationID, ws.TypeMessageStatus, ws.MessageStatusData{
			ConversationID: data.ConversationID,
			MessageID:      msg.ID,
			Status:         "delivered",
		})
	}

	logger.Debug("devserver: message %s from %s in %s", msg.ID, client.UserID, data.ConversationID)
}

// handleUpdateStatus treats a read receipt as a cursor: every message from
// someone else at or before it advances too.
func (h *Hub) handleUpdateStatus(client *Client, data ws.UpdateStatusData) {
	h.mu.Lock()
	cursor, ok := h.byID[data.MessageID]
	if !ok {
		h.mu.Unlock()
		h.sendError(client, "unknown message")
		return
	}
	conversationID := cursor.ConversationID

	var advanced []*ws.WireMessage
	for _, m := range h.log[conversationID] {
		if m.SenderID == client.UserID {
			continue
		}
		if statusRank(m.Status) >= statusRank(data.Status) {
			continue
		}
		if data.Status == "read" {
			if m.CreatedAt <= cursor.CreatedAt {
				m.Status = "read"
				advanced = append(advanced, m)
			}
		} else if m.ID == data.MessageID {
			m.Status = data.Status
			advanced = append(advanced, m)
		}
	}
	h.mu.Unlock()

	for _, m := range advanced {
		h.broadcast(conversationID, ws.TypeMessageStatus, ws.MessageStatusData{
			ConversationID: conversationID,
			MessageID:      m.ID,
			Status:         m.Status,
		})
	}
}

func statusRank(status string) int {
	switch status {
	case "sent":
		return 1
	case "delivered":
		return 2
	case "read":
		return 3
	}
	return 0
}

func (h *Hub) broadcast(conversationID, frameType string, data interface{}) {
	h.broadcastExcept(conversationID, nil, frameType, data)
}

func (h *Hub) broadcastExcept(conversationID string, except *Client, frameType string, data interface{}) {
	frame, err := ws.NewFrame(frameType, data)
	if err != nil {
		logger.Error("devserver: marshal %s: %v", frameType, err)
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		logger.Error("devserver: marshal %s: %v", frameType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for peer := range h.rooms[conversationID] {
		if peer == except {
			continue
		}
		select {
		case peer.send <- raw:
		default:
			logger.Warn("devserver: send buffer full for %s", peer.UserID)
		}
	}
}

func (h *Hub) sendError(client *Client, message string) {
	frame, err := ws.NewFrame(ws.TypeError, ws.ErrorData{Message: message})
	if err != nil {
		return
	}
	raw, _ := json.Marshal(frame)
	select {
	case client.send <- raw:
	default:
	}
}
