package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Evolution API defaults.
const (
	DefaultEvolutionURL      = "http://localhost:8080/message"
	DefaultEvolutionInstance = "cranios"
	DefaultGatewayTimeout    = 15 * time.Second
)

// EvolutionOpts configures the Evolution API sender.
type EvolutionOpts struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

// EvolutionOption sets a field on EvolutionOpts.
type EvolutionOption func(*EvolutionOpts)

// WithEvolutionURL sets the message base URL, e.g. http://host:8080/message.
func WithEvolutionURL(u string) EvolutionOption {
	return func(o *EvolutionOpts) { o.BaseURL = u }
}

// WithEvolutionAPIKey sets the apikey header value.
func WithEvolutionAPIKey(key string) EvolutionOption {
	return func(o *EvolutionOpts) { o.APIKey = key }
}

// WithEvolutionInstance sets the instance name.
func WithEvolutionInstance(name string) EvolutionOption {
	return func(o *EvolutionOpts) { o.Instance = name }
}

// WithEvolutionTimeout bounds every gateway call.
func WithEvolutionTimeout(d time.Duration) EvolutionOption {
	return func(o *EvolutionOpts) { o.Timeout = d }
}

// EvolutionService sends replies through the Evolution API.
type EvolutionService struct {
	httpClient *resty.Client
	baseURL    string
	instance   string
}

// Compile-time checks that EvolutionService implements Sender and StateReporter.
var (
	_ Sender        = (*EvolutionService)(nil)
	_ StateReporter = (*EvolutionService)(nil)
)

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
	State string `json:"state"`
}

// NewEvolutionService builds the sender. Unset options fall back to
// EVOLUTION_API_URL, EVOLUTION_API_KEY and EVOLUTION_INSTANCE_NAME.
func NewEvolutionService(opts ...EvolutionOption) *EvolutionService {
	cfg := EvolutionOpts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("EVOLUTION_API_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEvolutionURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("EVOLUTION_API_KEY")
	}
	if cfg.Instance == "" {
		cfg.Instance = os.Getenv("EVOLUTION_INSTANCE_NAME")
	}
	if cfg.Instance == "" {
		cfg.Instance = DefaultEvolutionInstance
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.APIKey == "" {
		slog.Warn("EvolutionService: no API key configured, gateway calls will likely be rejected")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client := resty.New().
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	slog.Debug("EvolutionService created", "base_url", baseURL, "instance", cfg.Instance, "timeout", cfg.Timeout)
	return &EvolutionService{httpClient: client, baseURL: baseURL, instance: cfg.Instance}
}

// SendText posts {number, text} to {base}/sendText/{instance}. The phone is sent as given.
func (s *EvolutionService) SendText(ctx context.Context, phone, text string) error {
	if phone == "" {
		return ErrEmptyRecipient
	}
	if text == "" {
		return ErrEmptyText
	}
	endpoint := s.baseURL + "/sendText/" + url.PathEscape(s.instance)

	slog.Debug("EvolutionService.SendText: sending", "phone", phone, "text_length", len(text))
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(sendTextRequest{Number: phone, Text: text}).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("failed to send text via evolution: %w", err)
	}
	if resp.IsError() {
		return &GatewayError{Gateway: "evolution", Status: resp.StatusCode(), Body: resp.String()}
	}
	slog.Info("EvolutionService.SendText: message sent", "phone", phone, "status", resp.StatusCode())
	return nil
}

// ConnectionState queries /instance/connectionState/{instance} on the API root.
func (s *EvolutionService) ConnectionState(ctx context.Context) (string, error) {
	root := strings.TrimSuffix(s.baseURL, "/message")
	endpoint := root + "/instance/connectionState/" + url.PathEscape(s.instance)

	var result connectionStateResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to query evolution connection state: %w", err)
	}
	if resp.IsError() {
		return "", &GatewayError{Gateway: "evolution", Status: resp.StatusCode(), Body: resp.String()}
	}
	if result.Instance.State != "" {
		return result.Instance.State, nil
	}
	return result.State, nil
}
