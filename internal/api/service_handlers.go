package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/proposal"
)

// processMessageHandler handles POST /api/ai/process-message. The body is
// answered with a bare DecisionResponse.
func (s *Server) processMessageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.processMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: phone"))
		return
	}
	if req.Context == nil {
		req.Context = models.ConversationContext{}
	}

	out, err := s.assistant.Decide(r.Context(), req)
	if err != nil {
		slog.Error("Server.processMessageHandler: decision failed", "error", err, "phone", req.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	slog.Debug("Server.processMessageHandler: decision ready", "phone", req.Phone, "action", out.Action)
	writeJSONResponse(w, http.StatusOK, out)
}

// generateProposalHandler handles POST /api/proposals/generate.
func (s *Server) generateProposalHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.ProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.generateProposalHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(proposal.IdempotencyHeader)
	}

	p, err := s.generator.Generate(r.Context(), req)
	switch {
	case errors.Is(err, proposal.ErrInvalidLead):
		slog.Warn("Server.generateProposalHandler: invalid lead", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case errors.Is(err, proposal.ErrNoPricingRule):
		slog.Warn("Server.generateProposalHandler: no pricing rule", "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error(err.Error()))
		return
	case err != nil:
		slog.Error("Server.generateProposalHandler: generation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate proposal"))
		return
	}
	slog.Info("Server.generateProposalHandler: proposal generated", "proposal_id", p.ID, "delivery", p.Delivery)
	writeJSONResponse(w, http.StatusOK, models.Success(p))
}
