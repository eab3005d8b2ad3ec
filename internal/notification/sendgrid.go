package notification

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	BaseURL   string // overrides https://api.sendgrid.com, for tests
}

// SendGridChannel sends email through the SendGrid v3 mail API.
type SendGridChannel struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	log       *logging.Logger
}

// NewSendGridChannel returns nil when no API key is configured so callers
// can fall back to the logging channel.
func NewSendGridChannel(cfg SendGridConfig, log *logging.Logger) *SendGridChannel {
	if cfg.APIKey == "" {
		return nil
	}
	if log == nil {
		log = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Medical Center"
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL + "/v3/mail/send"
	}
	return &SendGridChannel{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log,
	}
}

func (c *SendGridChannel) SendEmail(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return Permanent(ErrNoRecipient)
	}

	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		message.AddAttachment(att)
	}

	resp, err := c.client.SendWithContext(ctx, message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.log.Warn("sendgrid send failed", "to", msg.To, "error", err)
		return Transient(fmt.Errorf("sendgrid send: %w", err))
	}
	if err := classifyStatus("sendgrid", resp.StatusCode, resp.Body); err != nil {
		c.log.Warn("sendgrid returned error status", "to", msg.To, "status", resp.StatusCode)
		return err
	}

	c.log.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}
