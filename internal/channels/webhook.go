package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adamstosho/grochain/internal/models"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig describes an external gateway endpoint. The SMS and push
// transports both use this shape: the gateway owns carrier and device
// specifics, this service only reports the payload and recipient.
type WebhookConfig struct {
	Channel string
	URL     string
	Token   string
	Timeout time.Duration
}

// WebhookSender implements Sender against an HTTP gateway.
type WebhookSender struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookSender builds a webhook-backed sender for the named channel.
func NewWebhookSender(cfg WebhookConfig) (*WebhookSender, error) {
	if cfg.Channel == "" {
		return nil, errors.New("webhook sender: channel is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook sender: %s gateway url is required", cfg.Channel)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type webhookRequest struct {
	Channel string         `json:"channel"`
	UserID  string         `json:"user_id"`
	Phone   string         `json:"phone,omitempty"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Send posts the payload to the gateway and treats any non-2xx status as a
// delivery failure.
func (s *WebhookSender) Send(ctx context.Context, user models.User, payload Payload) error {
	body, err := json.Marshal(webhookRequest{
		Channel: s.cfg.Channel,
		UserID:  user.ID,
		Phone:   user.Phone,
		Title:   payload.Title,
		Message: payload.Message,
		Data:    payload.Data,
	})
	if err != nil {
		return fmt.Errorf("webhook sender: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook sender: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook sender: %s gateway: %w", s.cfg.Channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sender: %s gateway returned %d", s.cfg.Channel, resp.StatusCode)
	}
	return nil
}
