package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pawmart/internal/domain/entity"
	ws "pawmart/internal/infrastructure/websocket"
	"pawmart/pkg/errors"
)

// Client fetches conversation history from the REST collaborator. It seeds
// the message store on open; the engine treats the result as rebuildable
// cache, never as durable local state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type historyEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Messages []ws.WireMessage `json:"messages"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ConversationHistory returns the ordered message array for a conversation.
func (c *Client) ConversationHistory(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s/messages", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Internal("build history request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Network("history request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.Auth("history credentials rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound("conversation", nil)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Network(fmt.Sprintf("history endpoint returned %d", resp.StatusCode), nil)
	}

	var envelope historyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.Internal("decode history response", err)
	}

	messages := make([]*entity.Message, 0, len(envelope.Data.Messages))
	for i := range envelope.Data.Messages {
		messages = append(messages, envelope.Data.Messages[i].Entity())
	}
	return messages, nil
}
