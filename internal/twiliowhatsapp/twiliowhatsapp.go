// Package twiliowhatsapp wraps the Twilio API for WhatsApp delivery in IntakePipe.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsAppSender sends a WhatsApp text to an E.164 number without the
// leading plus.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
// This focuses solely on Twilio API requirements
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, "whatsapp:+<number>" or a bare number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	validator twilioClient.RequestValidator
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// Compile-time check that Client implements TwilioWhatsAppSender.
var _ TwilioWhatsAppSender = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:    client,
		validator: twilioClient.NewRequestValidator(cfg.AuthToken),
		fromWhats: FormatAddress(cfg.FromWhats),
	}, nil
}

// FormatAddress turns a bare number into the "whatsapp:+<digits>" form.
func FormatAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:+" + strings.TrimPrefix(number, "+")
}

// StripAddress removes the "whatsapp:" prefix and leading plus.
func StripAddress(addr string) string {
	return strings.TrimPrefix(strings.TrimPrefix(addr, "whatsapp:"), "+")
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(FormatAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// ValidateSignature checks the X-Twilio-Signature header of an inbound webhook.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// SentMessage records one call to MockClient.SendMessage.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records outbound messages instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// Compile-time check that MockClient implements TwilioWhatsAppSender.
var _ TwilioWhatsAppSender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
