package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/faultline-io/faultline-backend/pkg/config"
)

// Mailer delivers event notices over email.
type Mailer interface {
	SendEventNotice(ctx context.Context, toAddress string, notice EventNotice) error
}

// HTTPMailer posts messages to the transactional mail API. Template
// rendering happens on the mail service side; this client only ships the
// subject and the notice fields.
type HTTPMailer struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewHTTPMailer builds the mail API client.
func NewHTTPMailer(cfg config.MailConfig) (*HTTPMailer, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("mail api base url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("mail api key is required")
	}
	return &HTTPMailer{
		baseURL:    cfg.APIBaseURL,
		apiKey:     cfg.APIKey,
		from:       cfg.DefaultFrom,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type mailRequest struct {
	From     string      `json:"from"`
	To       string      `json:"to"`
	Subject  string      `json:"subject"`
	Template string      `json:"template"`
	Data     EventNotice `json:"data"`
}

// SendEventNotice posts one message to the mail API.
func (m *HTTPMailer) SendEventNotice(ctx context.Context, toAddress string, notice EventNotice) error {
	body, err := json.Marshal(mailRequest{
		From:     m.from,
		To:       toAddress,
		Subject:  notice.Subject(),
		Template: "event-notice",
		Data:     notice,
	})
	if err != nil {
		return fmt.Errorf("encoding mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail api responded %s", resp.Status)
	}
	return nil
}
