package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ChatNotifier delivers event notices to the project chat integration.
type ChatNotifier interface {
	PostEventNotice(ctx context.Context, notice EventNotice) error
}

// WebhookChatNotifier posts compact notices to an incoming-webhook URL.
type WebhookChatNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookChatNotifier builds the chat webhook client.
func NewWebhookChatNotifier(webhookURL string) (*WebhookChatNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("chat webhook url is required")
	}
	return &WebhookChatNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type chatPayload struct {
	Text string `json:"text"`
}

// PostEventNotice posts one notice to the webhook.
func (c *WebhookChatNotifier) PostEventNotice(ctx context.Context, notice EventNotice) error {
	body, err := json.Marshal(chatPayload{Text: notice.Subject()})
	if err != nil {
		return fmt.Errorf("encoding chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook responded %s", resp.Status)
	}
	return nil
}
