package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HistoryLoader fetches the persisted messages for a conversation, oldest
// first. Called once per session open.
type HistoryLoader interface {
	History(ctx context.Context, localID, peerID int64) ([]Message, error)
}

// HistoryClient loads conversation history from the DM relay's REST API.
type HistoryClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHistoryClient creates a history client for the given relay base URL
// (e.g. "https://api.spotlight.example"). The token authenticates requests;
// it may be empty against an unsecured relay.
func NewHistoryClient(baseURL, token string) *HistoryClient {
	return &HistoryClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// History fetches every message between the two users in server order.
// Returned messages are tagged with server-assigned timestamps.
func (c *HistoryClient) History(ctx context.Context, localID, peerID int64) ([]Message, error) {
	url := fmt.Sprintf("%s/api/dm/history?sender_id=%d&receiver_id=%d", c.baseURL, localID, peerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("history fetch failed with status %d: %s", resp.StatusCode, body)
	}

	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	for i := range messages {
		messages[i].TimeSource = TimeServer
	}
	return messages, nil
}
