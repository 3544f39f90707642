package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"assist-chat/errors"
	"assist-chat/wire"
)

// HistoryLoader fetches the persisted transcript of a conversation so the
// synchronizer can repair its local state after a gap.
type HistoryLoader interface {
	// FetchHistory returns the full ordered transcript for the conversation.
	// errors.ErrConversationNotFound signals the id is unknown to the server
	// and must be invalidated by the caller.
	FetchHistory(ctx context.Context, conversationID string) ([]wire.MessageDelivery, error)
}

// HTTPHistoryLoader loads history over the REST endpoint.
type HTTPHistoryLoader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPHistoryLoader(baseURL string, timeout time.Duration) *HTTPHistoryLoader {
	return &HTTPHistoryLoader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (l *HTTPHistoryLoader) FetchHistory(ctx context.Context, conversationID string) ([]wire.MessageDelivery, error) {
	endpoint := fmt.Sprintf("%s/messages?conversationId=%s", l.baseURL, url.QueryEscape(conversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request : %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history : %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return nil, errors.ErrConversationNotFound
	default:
		return nil, fmt.Errorf("unexpected history status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response : %w", err)
	}
	var messages []wire.MessageDelivery
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse history response : %w", err)
	}
	return messages, nil
}
