// Package decision calls the decision service that turns an inbound message
// and its conversation context into a reply and an optional action.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds a single decision call.
	DefaultTimeout = 30 * time.Second
	// DefaultBaseURL is used when no decision service URL is configured.
	DefaultBaseURL = "http://localhost:8080"
	// ProcessMessagePath is the decision endpoint.
	ProcessMessagePath = "/api/ai/process-message"
)

var (
	// ErrDecisionTimeout is returned when the decision service did not answer in time.
	ErrDecisionTimeout = errors.New("decision service timed out")
	// ErrDecisionFailed is returned for transport errors, non-2xx answers and undecodable bodies.
	ErrDecisionFailed = errors.New("decision service failed")
)

// Delegate produces a decision for one message.
type Delegate interface {
	Decide(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error)
}

// Opts holds configuration for the decision client.
type Opts struct {
	BaseURL string
	Timeout time.Duration
}

// Option defines a configuration option for the decision client.
type Option func(*Opts)

// WithBaseURL sets the decision service base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout sets the bounded wait per call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is a Delegate backed by an HTTP decision service.
type Client struct {
	httpClient *resty.Client
	endpoint   string
	timeout    time.Duration
}

// Compile-time check that Client implements Delegate.
var _ Delegate = (*Client)(nil)

// NewClient creates a decision client. No retry is configured.
func NewClient(opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + ProcessMessagePath
	slog.Debug("decision.NewClient", "endpoint", endpoint, "timeout", cfg.Timeout)
	return &Client{httpClient: httpClient, endpoint: endpoint, timeout: cfg.Timeout}
}

// Decide posts req and decodes the decision.
func (c *Client) Decide(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.endpoint)
	if err != nil {
		if isTimeout(err) {
			slog.Warn("decision.Client.Decide: timed out", "phone", req.Phone, "elapsed", time.Since(start))
			return nil, fmt.Errorf("%w after %s: %w", ErrDecisionTimeout, time.Since(start).Round(time.Millisecond), err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecisionFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d: %s", ErrDecisionFailed, resp.StatusCode(), resp.String())
	}

	var out models.DecisionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: invalid response body: %w", ErrDecisionFailed, err)
	}
	slog.Debug("decision.Client.Decide: decision received", "phone", req.Phone, "action", out.Action, "response_length", len(out.Response), "elapsed", time.Since(start))
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
