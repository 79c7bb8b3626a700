package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/domain"
)

// EmailConfig configures the SendGrid channel.
type EmailConfig struct {
	APIKey   string
	From     string
	FromName string
	// Recipients maps patient ids to addresses; other patients are skipped.
	// Ids match case-insensitively since viper lowercases map keys.
	Recipients map[string]string
}

// EmailNotifier sends reminders through SendGrid.
type EmailNotifier struct {
	mu         sync.Mutex // the client's request body is shared
	client     *sendgrid.Client
	from       *mail.Email
	recipients map[string]string
	logger     *logrus.Logger
}

// NewEmailNotifier creates an e-mail channel
func NewEmailNotifier(config EmailConfig, logger *logrus.Logger) *EmailNotifier {
	fromName := config.FromName
	if fromName == "" {
		fromName = "Meditrek Reminders"
	}
	recipients := make(map[string]string, len(config.Recipients))
	for id, address := range config.Recipients {
		recipients[strings.ToLower(id)] = address
	}
	return &EmailNotifier{
		client:     sendgrid.NewSendClient(config.APIKey),
		from:       mail.NewEmail(fromName, config.From),
		recipients: recipients,
		logger:     logger,
	}
}

// Notify e-mails the reminder to the patient's address, if one is configured.
func (n *EmailNotifier) Notify(ctx context.Context, r domain.Reminder) error {
	address, ok := n.recipients[strings.ToLower(r.PatientID)]
	if !ok || address == "" {
		n.logger.WithField("patient_id", r.PatientID).Debug("No e-mail address for patient, skipping")
		return nil
	}

	subject := fmt.Sprintf("Reminder: %s is due", r.MedicineName)
	plainText := fmt.Sprintf("%s\nDue at %s.", r.Message, r.DueAt.Format("15:04 on Mon 2 Jan"))
	htmlContent := fmt.Sprintf("<p>%s</p><p>Due at <strong>%s</strong>.</p>", html.EscapeString(r.Message), r.DueAt.Format("15:04 on Mon 2 Jan"))

	message := mail.NewSingleEmail(n.from, subject, mail.NewEmail("", address), plainText, htmlContent)
	n.mu.Lock()
	response, err := n.client.SendWithContext(ctx, message)
	n.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
