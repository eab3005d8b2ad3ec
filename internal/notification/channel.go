package notification

import (
	"context"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type EmailMessage struct {
	To          string
	ToName      string
	Subject     string
	Body        string // plain text
	HTML        string // optional
	Attachments []Attachment
}

type SMSMessage struct {
	To   string
	Body string
}

// EmailChannel and SMSChannel deliver one message each call. Errors should
// be wrapped with Transient or Permanent; anything else is retried.
type EmailChannel interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

type SMSChannel interface {
	SendSMS(ctx context.Context, msg SMSMessage) error
}

// FormRenderer produces the intake form attached to a new patient's email.
type FormRenderer interface {
	RenderIntakeForm(ctx context.Context, r Recipient, v Visit) (Attachment, error)
}

// LogEmailChannel logs instead of sending. Used when no provider is
// configured.
type LogEmailChannel struct {
	log *logging.Logger
}

func NewLogEmailChannel(log *logging.Logger) *LogEmailChannel {
	if log == nil {
		log = logging.Default()
	}
	return &LogEmailChannel{log: log}
}

func (c *LogEmailChannel) SendEmail(ctx context.Context, msg EmailMessage) error {
	c.log.Info("mock email: would send",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}

type LogSMSChannel struct {
	log *logging.Logger
}

func NewLogSMSChannel(log *logging.Logger) *LogSMSChannel {
	if log == nil {
		log = logging.Default()
	}
	return &LogSMSChannel{log: log}
}

func (c *LogSMSChannel) SendSMS(ctx context.Context, msg SMSMessage) error {
	c.log.Info("mock sms: would send", "to", msg.To, "length", len(msg.Body))
	return nil
}
