// Package notify delivers dose reminders. Every channel is best effort: the
// sweep logs delivery failures and moves on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
)

// LogNotifier writes reminders to the log.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the reminder at info level.
func (n *LogNotifier) Notify(ctx context.Context, r domain.Reminder) error {
	n.logger.WithFields(logrus.Fields{
		"patient_id":  r.PatientID,
		"schedule_id": r.ScheduleID,
		"medicine":    r.MedicineName,
		"due_at":      r.DueAt,
	}).Info(r.Message)
	return nil
}

// Multi fans a reminder out to every channel.
type Multi []domain.Notifier

// Notify delivers to all channels and joins their errors.
func (m Multi) Notify(ctx context.Context, r domain.Reminder) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig assembles the configured channels. hub may be nil when the
// WebSocket stream is not served.
func FromConfig(cfg domain.NotifyConfig, hub *Hub, logger *logrus.Logger) Multi {
	var channels Multi
	if cfg.Log {
		channels = append(channels, NewLogNotifier(logger))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookNotifier(WebhookConfig{
			URL:       cfg.WebhookURL,
			Timeout:   cfg.WebhookTimeout,
			RateLimit: cfg.WebhookRate,
		}))
	}
	if hub != nil {
		channels = append(channels, hub)
	}
	if cfg.SendGridAPIKey != "" {
		channels = append(channels, NewEmailNotifier(EmailConfig{
			APIKey:     cfg.SendGridAPIKey,
			From:       cfg.EmailFrom,
			FromName:   cfg.EmailFromName,
			Recipients: cfg.PatientEmails,
		}, logger))
	}
	return channels
}
