package decision

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed
// with the merchant's webhook secret.
const SignatureHeader = "X-FraudShield-Signature"

// WebhookSender delivers decision events to merchant endpoints. Delivery is
// fire-and-forget: one attempt per event, failures logged and dropped.
type WebhookSender struct {
	client  *http.Client
	timeout time.Duration
}

// NewWebhookSender creates a sender with the given delivery timeout.
func NewWebhookSender(cfg domain.WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// SendAsync dispatches the event in a background goroutine so decisioning
// latency never depends on the merchant's endpoint.
func (s *WebhookSender) SendAsync(url, secret string, event *domain.WebhookEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.Send(ctx, url, secret, event); err != nil {
			slog.Warn("webhook delivery failed",
				"merchant_id", event.MerchantID,
				"evaluation_id", event.EvaluationID,
				"error", err,
			)
			metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	}()
}

// Send delivers one signed event synchronously.
func (s *WebhookSender) Send(ctx context.Context, url, secret string, event *domain.WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}

	slog.Debug("webhook delivered",
		"merchant_id", event.MerchantID,
		"evaluation_id", event.EvaluationID,
		"status", resp.StatusCode,
	)
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
