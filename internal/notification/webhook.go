package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint, retrying
// transient failures.
type WebhookNotifier struct {
	url     string
	service string
	client  *http.Client
	retries uint64
}

// NewWebhookNotifier creates a webhook notifier tagging alerts with service.
func NewWebhookNotifier(url, service string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		service: service,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]interface{}{
		"service": w.service,
		"level":   string(alert.Level),
		"title":   alert.Title,
		"message": alert.Message,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("webhook: create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: send: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook: status %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	if err := backoff.Retry(post, backoff.WithContext(backoff.WithMaxRetries(b, w.retries), ctx)); err != nil {
		return err
	}

	log.Printf("[webhook] sent alert: %s", alert.Title)
	return nil
}
