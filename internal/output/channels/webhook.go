package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

const (
	webhookTimeout = 30 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
	SignatureHeader = "X-Hotspot-Signature"
)

var errWebhookStatus = errors.New("webhook returned non-success status")

// WebhookMessage is the JSON body posted to the webhook.
type WebhookMessage struct {
	PushID    string          `json:"push_id"`
	HotspotID string          `json:"hotspot_id"`
	Keyword   string          `json:"keyword"`
	Priority  string          `json:"priority"`
	Score     float64         `json:"score"`
	Title     string          `json:"title"`
	Text      string          `json:"text"`
	Report    json.RawMessage `json:"report,omitempty"`
}

// Webhook posts payloads as JSON.
type Webhook struct {
	url    string
	secret string
	client *resty.Client
}

// NewWebhook creates a webhook channel.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	return &Webhook{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: resty.New().
			SetTimeout(webhookTimeout).
			SetHeader("User-Agent", "hotspot-engine/1.0"),
	}
}

// Name returns the channel name.
func (w *Webhook) Name() string { return NameWebhook }

// Send posts payload and treats any non-2xx status as a failure.
func (w *Webhook) Send(ctx context.Context, payload ports.PushPayload) error {
	body, err := json.Marshal(WebhookMessage{
		PushID:    payload.PushID,
		HotspotID: payload.HotspotID,
		Keyword:   payload.Keyword,
		Priority:  string(payload.Priority),
		Score:     payload.Score,
		Title:     Title(payload),
		Text:      RenderText(payload),
		Report:    payload.Report,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook message: %w", err)
	}

	req := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if w.secret != "" {
		req.SetHeader(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("%w: %d: %s", errWebhookStatus, resp.StatusCode(), truncate(resp.String(), 200))
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	head, _ := splitUnits(s, n)

	return head
}
