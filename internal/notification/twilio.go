package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string // defaults to https://api.twilio.com
}

// TwilioChannel posts SMS messages to Twilio's REST API. Retries are left to
// the orchestrator, so each call makes exactly one request.
type TwilioChannel struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewTwilioChannel returns nil unless all credentials are present.
func NewTwilioChannel(cfg TwilioConfig, log *logging.Logger) *TwilioChannel {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil
	}
	if log == nil {
		log = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioChannel{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (c *TwilioChannel) SendSMS(ctx context.Context, msg SMSMessage) error {
	if msg.To == "" {
		return Permanent(ErrNoRecipient)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Permanent(errors.New("sms body required"))
	}

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", c.from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return Permanent(err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return Transient(fmt.Errorf("twilio request: %w", err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if err := classifyStatus("twilio", resp.StatusCode, twilioErrorDetail(body)); err != nil {
		c.log.Warn("twilio send failed", "to", msg.To, "status", resp.StatusCode)
		return err
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &parsed)
	c.log.Info("twilio sms sent", "to", msg.To, "sid", parsed.SID, "provider_status", parsed.Status)
	return nil
}

func twilioErrorDetail(body []byte) string {
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("code %d: %s", parsed.Code, parsed.Message)
		}
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}
