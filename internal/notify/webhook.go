package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/meditrek-engine/internal/domain"
)

// WebhookConfig represents configuration for the webhook channel
type WebhookConfig struct {
	URL       string        `json:"url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

type webhookPayload struct {
	Event    string          `json:"event"`
	ID       string          `json:"id"`
	Reminder domain.Reminder `json:"reminder"`
	SentAt   time.Time       `json:"sent_at"`
}

// WebhookNotifier POSTs reminders as JSON.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewWebhookNotifier creates a webhook channel
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	return &WebhookNotifier{
		url: config.URL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Notify posts the reminder. Any non-2xx status is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, r domain.Reminder) error {
	if err := n.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	id := uuid.New().String()
	body, err := json.Marshal(webhookPayload{
		Event:    "dose_reminder",
		ID:       id,
		Reminder: r,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode reminder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", id)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
