package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/go-resty/resty/v2"
)

const (
	// GeneratePath is the proposal endpoint.
	GeneratePath = "/api/proposals/generate"
	// DefaultTimeout bounds a proposal call.
	DefaultTimeout = 15 * time.Second
	// IdempotencyHeader carries ProposalRequest.IdempotencyKey. The service
	// answers a repeated key without issuing a second proposal.
	IdempotencyHeader = "Idempotency-Key"
)

// Requester asks for a proposal. The result is not returned to the pipeline.
type Requester interface {
	Request(ctx context.Context, req models.ProposalRequest) error
}

// Client is a Requester backed by an HTTP proposal service.
type Client struct {
	httpClient *resty.Client
	endpoint   string
}

// Compile-time check that Client implements Requester.
var _ Requester = (*Client)(nil)

// NewClient creates a proposal client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	endpoint := strings.TrimRight(baseURL, "/") + GeneratePath
	slog.Debug("proposal.NewClient", "endpoint", endpoint, "timeout", timeout)
	return &Client{httpClient: httpClient, endpoint: endpoint}
}

// Request posts {phone, lead_data, idempotency_key}. Any non-2xx answer is an error.
func (c *Client) Request(ctx context.Context, req models.ProposalRequest) error {
	if len(req.LeadData) == 0 {
		req.LeadData = []byte("{}")
	}
	r := c.httpClient.R().SetContext(ctx).SetBody(req)
	if req.IdempotencyKey != "" {
		r.SetHeader(IdempotencyHeader, req.IdempotencyKey)
	}
	resp, err := r.Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to call proposal service: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("proposal service error (status %d): %s", resp.StatusCode(), resp.String())
	}
	slog.Debug("proposal.Client.Request: proposal requested", "phone", req.Phone, "status", resp.StatusCode())
	return nil
}
