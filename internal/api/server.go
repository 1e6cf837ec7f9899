// Package api provides the HTTP server for IntakePipe.
//
// It exposes the inbound webhooks that trigger the intake pipeline, the
// local decision and proposal endpoints, read-only conversation views,
// health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/decision"
	"github.com/BTreeMap/IntakePipe/internal/intake"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/proposal"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Defaults for the HTTP server.
const (
	DefaultRateLimit       = 120
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultWriteTimeout must exceed the decision timeout plus dispatch.
	DefaultWriteTimeout = 90 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// ProposalGenerator prices leads for POST /api/proposals/generate.
type ProposalGenerator interface {
	Generate(ctx context.Context, req models.ProposalRequest) (*proposal.Proposal, error)
}

// SignatureValidator checks the X-Twilio-Signature header of a webhook.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// Opts holds configuration for the Server.
type Opts struct {
	Assistant        decision.Delegate
	Generator        ProposalGenerator
	Gateway          messaging.StateReporter
	TwilioValidator  SignatureValidator
	TwilioWebhookURL string
	RateLimit        int
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAssistant mounts POST /api/ai/process-message backed by d.
func WithAssistant(d decision.Delegate) Option {
	return func(o *Opts) { o.Assistant = d }
}

// WithGenerator mounts POST /api/proposals/generate backed by g.
func WithGenerator(g ProposalGenerator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithGateway adds the gateway connection state to /health.
func WithGateway(g messaging.StateReporter) Option {
	return func(o *Opts) { o.Gateway = g }
}

// WithTwilioValidator enables signature checks on /webhook/twilio. publicURL
// is the webhook URL as configured in Twilio.
func WithTwilioValidator(v SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioValidator = v
		o.TwilioWebhookURL = publicURL
	}
}

// WithRateLimit sets the per-IP webhook limit per minute. Zero disables it.
func WithRateLimit(perMinute int) Option {
	return func(o *Opts) { o.RateLimit = perMinute }
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	pipeline         *intake.Pipeline
	st               store.Store
	assistant        decision.Delegate
	generator        ProposalGenerator
	gateway          messaging.StateReporter
	twilioValidator  SignatureValidator
	twilioWebhookURL string
	rateLimit        int
	router           chi.Router
}

// NewServer creates a Server and builds its routes.
func NewServer(pipeline *intake.Pipeline, st store.Store, opts ...Option) *Server {
	cfg := Opts{RateLimit: DefaultRateLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		pipeline:         pipeline,
		st:               st,
		assistant:        cfg.Assistant,
		generator:        cfg.Generator,
		gateway:          cfg.Gateway,
		twilioValidator:  cfg.TwilioValidator,
		twilioWebhookURL: cfg.TwilioWebhookURL,
		rateLimit:        cfg.RateLimit,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Rate limit exceeded"))
				}),
			))
		}
		r.Post("/webhook/whatsapp", s.evolutionWebhookHandler)
		r.Post("/webhook/twilio", s.twilioWebhookHandler)
	})

	if s.assistant != nil {
		r.Post(decision.ProcessMessagePath, s.processMessageHandler)
	}
	if s.generator != nil {
		r.Post(proposal.GeneratePath, s.generateProposalHandler)
	}

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.listConversationsHandler)
		r.Get("/{phone}", s.getConversationHandler)
	})
	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down", "timeout", DefaultShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// healthHandler reports store reachability and the gateway connection state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.st.Ping(ctx); err != nil {
		slog.Warn("Server.healthHandler: store ping failed", "error", err)
		healthData["status"] = "degraded"
		healthData["store"] = "unavailable"
	} else {
		healthData["store"] = "ok"
	}

	if s.gateway != nil {
		state, err := s.gateway.ConnectionState(ctx)
		if err != nil {
			slog.Warn("Server.healthHandler: gateway state unavailable", "error", err)
			state = "unknown"
		}
		healthData["gateway"] = state
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
