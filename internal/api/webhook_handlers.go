package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/intake"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// maxWebhookBody caps the size of a webhook body.
const maxWebhookBody = 1 << 20

// evolutionWebhookHandler handles POST /webhook/whatsapp.
func (s *Server) evolutionWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.evolutionWebhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}
	slog.Debug("Server.evolutionWebhookHandler: webhook received", "bytes", len(body))
	s.runPipeline(w, r, intake.EvolutionPayload(body))
}

// twilioWebhookHandler handles POST /webhook/twilio.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	if s.twilioValidator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.twilioValidator.ValidateSignature(s.twilioWebhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote_addr", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}
	s.runPipeline(w, r, intake.TwilioPayload(r.PostForm))
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, payload intake.Payload) {
	res, err := s.pipeline.Process(r.Context(), payload)
	status, out := intake.Finalize(res, err, time.Now())
	writeJSONResponse(w, status, out)
}
