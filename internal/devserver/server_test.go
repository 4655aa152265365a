package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapter "pawmart/internal/adapter/repository"
	"pawmart/internal/domain/entity"
	"pawmart/internal/infrastructure/history"
	ws "pawmart/internal/infrastructure/websocket"
	"pawmart/internal/usecase"
)

func newDevServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("test-secret").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, baseURL, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(baseURL+"/v1/dev/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func TestHealthEndpoint(t *testing.T) {
	srv := newDevServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMintTokenValidation(t *testing.T) {
	srv := newDevServer(t)
	resp, err := http.Post(srv.URL+"/v1/dev/token", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryRequiresAuth(t *testing.T) {
	srv := newDevServer(t)

	resp, err := http.Get(srv.URL + "/v1/conversations/conv-1/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := mintToken(t, srv.URL, "buyer-1")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/conversations/conv-1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := newDevServer(t)
	resp, err := http.Get(srv.URL + "/ws?token=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// engine wires a full sync engine against the dev backend, the same
// composition cmd/chat performs.
type engine struct {
	uc *usecase.ChatSyncUseCase
}

func startEngine(t *testing.T, baseURL, userID string) *engine {
	t.Helper()
	token := mintToken(t, baseURL, userID)

	transport := ws.NewClient(baseURL, ws.Options{
		ReconnectBaseDelay: 20 * time.Millisecond,
		HeartbeatInterval:  time.Second,
	})
	store := adapter.NewMemoryMessageStore()
	hist := history.NewClient(baseURL, token)
	uc := usecase.NewChatSyncUseCase(usecase.ChatSyncConfig{SelfID: userID}, store, transport, hist)

	require.NoError(t, uc.Start(context.Background(), ws.Credentials{Token: token}))
	t.Cleanup(uc.Stop)
	return &engine{uc: uc}
}

func (e *engine) conversation(id string) (usecase.ConversationSnapshot, bool) {
	for _, c := range e.uc.Snapshot().Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return usecase.ConversationSnapshot{}, false
}

func (e *engine) statusOf(conversationID, content string) entity.Status {
	c, ok := e.conversation(conversationID)
	if !ok {
		return ""
	}
	for _, m := range c.Messages {
		if m.Content == content {
			return m.Status
		}
	}
	return ""
}

func TestEndToEndMessageLifecycle(t *testing.T) {
	srv := newDevServer(t)
	buyer := startEngine(t, srv.URL, "buyer-1")
	seller := startEngine(t, srv.URL, "seller-1")

	require.NoError(t, buyer.uc.Open(context.Background(), "conv-1"))
	require.NoError(t, seller.uc.Open(context.Background(), "conv-1"))

	clientID := buyer.uc.Send("conv-1", "is the aquarium still available?")
	require.NotEmpty(t, clientID)

	// The seller has the conversation open, so the buyer's message is read
	// remotely and the receipt propagates back.
	assert.Eventually(t, func() bool {
		return seller.statusOf("conv-1", "is the aquarium still available?") != ""
	}, 3*time.Second, 20*time.Millisecond, "seller never received the message")

	assert.Eventually(t, func() bool {
		return buyer.statusOf("conv-1", "is the aquarium still available?") == entity.StatusRead
	}, 3*time.Second, 20*time.Millisecond, "read receipt never reached the buyer")

	// Exactly one entry on the buyer side despite echo plus status events.
	c, _ := buyer.conversation("conv-1")
	assert.Len(t, c.Messages, 1)
	assert.Equal(t, 0, buyer.uc.GlobalUnread())
}

func TestEndToEndUnreadWhileClosed(t *testing.T) {
	srv := newDevServer(t)
	buyer := startEngine(t, srv.URL, "buyer-1")
	seller := startEngine(t, srv.URL, "seller-1")

	// Only the seller joins the room; the buyer will catch up via history.
	require.NoError(t, seller.uc.Open(context.Background(), "conv-1"))
	seller.uc.Send("conv-1", "price dropped to 50")
	seller.uc.Send("conv-1", "still interested?")

	// Give the hub time to persist both sends.
	assert.Eventually(t, func() bool {
		c, ok := seller.conversation("conv-1")
		return ok && len(c.Messages) == 2
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, buyer.uc.Open(context.Background(), "conv-1"))

	// Opening seeds from history and immediately marks everything read.
	assert.Eventually(t, func() bool {
		c, ok := buyer.conversation("conv-1")
		return ok && len(c.Messages) == 2 && c.UnreadCount == 0
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return seller.statusOf("conv-1", "price dropped to 50") == entity.StatusRead &&
			seller.statusOf("conv-1", "still interested?") == entity.StatusRead
	}, 3*time.Second, 20*time.Millisecond, "cursor receipt must advance both messages")
}

func TestEndToEndTypingRelay(t *testing.T) {
	srv := newDevServer(t)
	buyer := startEngine(t, srv.URL, "buyer-1")
	seller := startEngine(t, srv.URL, "seller-1")

	require.NoError(t, buyer.uc.Open(context.Background(), "conv-1"))
	require.NoError(t, seller.uc.Open(context.Background(), "conv-1"))

	// The conversation needs at least one message to appear in snapshots.
	buyer.uc.Send("conv-1", "hello")
	assert.Eventually(t, func() bool {
		_, ok := seller.conversation("conv-1")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	seller.uc.SetTyping("conv-1", true)
	assert.Eventually(t, func() bool {
		c, ok := buyer.conversation("conv-1")
		return ok && len(c.TypingUserIDs) == 1 && c.TypingUserIDs[0] == "seller-1"
	}, 3*time.Second, 20*time.Millisecond)

	seller.uc.SetTyping("conv-1", false)
	assert.Eventually(t, func() bool {
		c, _ := buyer.conversation("conv-1")
		return len(c.TypingUserIDs) == 0
	}, 3*time.Second, 20*time.Millisecond)
}
