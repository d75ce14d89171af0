package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookMailer posts each message as JSON to a relay that owns the actual
// mail provider.
type WebhookMailer struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookMailer(url, secret string, timeout time.Duration) *WebhookMailer {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookMailer{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

type webhookMessage struct {
	UserID   string            `json:"user_id"`
	Template string            `json:"template"`
	Subject  string            `json:"subject"`
	Params   map[string]string `json:"params"`
	HTML     string            `json:"html,omitempty"`
}

func (m *WebhookMailer) Send(ctx context.Context, userID, templateKey string, params map[string]string) error {
	msg := webhookMessage{
		UserID:   userID,
		Template: templateKey,
		Subject:  Subject(templateKey, params),
		Params:   params,
	}
	if body := params[BodyParam]; body != "" {
		html, err := RenderHTML(body)
		if err != nil {
			return fmt.Errorf("render body: %w", err)
		}
		msg.HTML = html
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pressflow-Template", templateKey)
	if strings.TrimSpace(m.Secret) != "" {
		req.Header.Set("X-Pressflow-Secret", m.Secret)
	}
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
