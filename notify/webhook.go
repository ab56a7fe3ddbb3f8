package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Webhook posts JSON to a chat incoming-webhook URL. Address, when set,
// overrides the configured URL.
type Webhook struct {
	url    string
	client *http.Client
	build  func(Message) any
}

// NewSlackWebhook posts {"text": ...}.
func NewSlackWebhook(url string, client *http.Client) *Webhook {
	return newWebhook(url, client, func(m Message) any {
		return map[string]string{"text": joinSubject(m, "*")}
	})
}

// NewDiscordWebhook posts {"content": ...}.
func NewDiscordWebhook(url string, client *http.Client) *Webhook {
	return newWebhook(url, client, func(m Message) any {
		return map[string]string{"content": joinSubject(m, "**")}
	})
}

func newWebhook(url string, client *http.Client, build func(Message) any) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client, build: build}
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	target := msg.Address
	if target == "" {
		target = w.url
	}
	if target == "" {
		return ErrNoAddress
	}

	payload, err := json.Marshal(w.build(msg))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func joinSubject(m Message, mark string) string {
	if m.Subject == "" {
		return m.Body
	}
	return mark + m.Subject + mark + "\n" + m.Body
}
