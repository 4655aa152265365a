package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawmart/internal/domain/entity"
	"pawmart/pkg/errors"
)

var upgrader = gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// testServer accepts websocket upgrades and records inbound frames, so the
// client under test talks to a real connection.
type testServer struct {
	*httptest.Server

	mu     sync.Mutex
	frames []Frame
	conns  []*gorilla.Conn
	reject bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		reject := ts.reject
		ts.mu.Unlock()
		if reject || r.URL.Query().Get("token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		go ts.readFrames(conn)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) readFrames(conn *gorilla.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(raw, &f) == nil {
			ts.mu.Lock()
			ts.frames = append(ts.frames, f)
			ts.mu.Unlock()
		}
	}
}

func (ts *testServer) framesOfType(frameType string) []Frame {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []Frame
	for _, f := range ts.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func (ts *testServer) dropConnections() {
	ts.mu.Lock()
	conns := ts.conns
	ts.conns = nil
	ts.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (ts *testServer) push(t *testing.T, frameType string, data interface{}) {
	t.Helper()
	frame, err := NewFrame(frameType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var conn *gorilla.Conn
	require.Eventually(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if len(ts.conns) == 0 {
			return false
		}
		conn = ts.conns[len(ts.conns)-1]
		return true
	}, time.Second, 10*time.Millisecond, "no server-side connection registered")
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, raw))
}

func fastOptions() Options {
	return Options{
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxDelay:    50 * time.Millisecond,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    time.Second,
	}
}

func drainUntil(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected event not observed")
			return nil
		}
	}
}

func TestConnectRejectedCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.reject = true

	c := NewClient(ts.URL, fastOptions())
	err := c.Connect(context.Background(), Credentials{Token: "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "AUTH_ERROR"))
	assert.Equal(t, entity.ConnectionDisconnected, c.State())
}

func TestConnectAndDispatch(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, fastOptions())
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), Credentials{Token: "tok"}))
	drainUntil(t, c.Events(), func(ev Event) bool {
		s, ok := ev.(StateEvent)
		return ok && s.State == entity.ConnectionConnected
	})

	ts.push(t, TypeMessageCreated, MessageCreatedData{
		ConversationID: "conv-1",
		Message: WireMessage{
			ID: "s1", ConversationID: "conv-1", SenderID: "seller-1",
			Content: "hello", Type: "text", Status: "sent",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	})

	ev := drainUntil(t, c.Events(), func(ev Event) bool {
		_, ok := ev.(MessageCreatedEvent)
		return ok
	})
	created := ev.(MessageCreatedEvent)
	assert.Equal(t, "conv-1", created.ConversationID)
	assert.Equal(t, entity.ServerID("s1"), created.Message.ServerID)
	assert.Equal(t, entity.StatusSent, created.Message.Status)

	ts.push(t, TypeMessageStatus, MessageStatusData{
		ConversationID: "conv-1", MessageID: "s1", Status: "read",
	})
	ev = drainUntil(t, c.Events(), func(ev Event) bool {
		_, ok := ev.(MessageStatusEvent)
		return ok
	})
	status := ev.(MessageStatusEvent)
	assert.Equal(t, entity.ServerID("s1"), status.ServerID)
	assert.Equal(t, entity.StatusRead, status.Status)
}

func TestDeferredJoinSentOnConnect(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, fastOptions())
	defer c.Disconnect()

	// Joined while disconnected: remembered, not sent.
	c.JoinConversation("conv-1")
	c.JoinConversation("conv-2")
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, c.JoinedConversations())

	require.NoError(t, c.Connect(context.Background(), Credentials{Token: "tok"}))

	assert.Eventually(t, func() bool {
		return len(ts.framesOfType(TypeJoin)) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectReplaysJoins(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, fastOptions())
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), Credentials{Token: "tok"}))
	c.JoinConversation("conv-1")

	assert.Eventually(t, func() bool {
		return len(ts.framesOfType(TypeJoin)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.dropConnections()

	// The client reconnects on its own and re-joins the remembered room.
	assert.Eventually(t, func() bool {
		return len(ts.framesOfType(TypeJoin)) == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return c.State() == entity.ConnectionConnected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestIntentionalDisconnectDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, fastOptions())

	require.NoError(t, c.Connect(context.Background(), Credentials{Token: "tok"}))
	c.JoinConversation("conv-1")
	require.NoError(t, c.Disconnect())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, entity.ConnectionDisconnected, c.State())
	ts.mu.Lock()
	live := len(ts.conns)
	ts.mu.Unlock()
	assert.LessOrEqual(t, live, 1, "no new connection may appear after an intentional disconnect")

	// The join-set survives the disconnect.
	assert.Equal(t, []string{"conv-1"}, c.JoinedConversations())
}

func TestCommandsRequireConnection(t *testing.T) {
	c := NewClient("http://unreachable.invalid", fastOptions())

	err := c.SendMessage(SendMessageData{ConversationID: "conv-1", ClientID: "c1", Content: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "NETWORK_ERROR"))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second, maxAttempts: 10}

	var prev time.Duration
	for i := 0; i < 6; i++ {
		d := r.nextDelay()
		assert.LessOrEqual(t, d, time.Second)
		if i > 0 && prev < time.Second {
			assert.GreaterOrEqual(t, d, prev, "delay must not shrink before the cap")
		}
		prev = d
	}
	assert.Equal(t, time.Second, prev, "delay reaches the cap")
}

func TestBackoffAttemptsExhaust(t *testing.T) {
	r := &reconnector{baseDelay: time.Millisecond, maxDelay: time.Millisecond, maxAttempts: 3}
	for i := 0; i < 3; i++ {
		require.True(t, r.shouldReconnect())
		r.nextDelay()
	}
	assert.False(t, r.shouldReconnect())
}

func TestWebSocketURLDerivedFromHTTP(t *testing.T) {
	// Indirect check through a failed dial: an http URL must become ws.
	c := NewClient("http://127.0.0.1:1", fastOptions())
	err := c.Connect(context.Background(), Credentials{Token: "tok"})
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "malformed"), "scheme rewrite must produce a dialable URL")
}
