// Package api provides read-only conversation handlers for IntakePipe endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// conversationView is a Conversation with its context decoded.
type conversationView struct {
	ID           string                     `json:"id"`
	Phone        string                     `json:"phone"`
	Name         string                     `json:"name"`
	Status       string                     `json:"status"`
	Context      models.ConversationContext `json:"context"`
	MessageCount int64                      `json:"message_count"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

func newConversationView(c models.Conversation) conversationView {
	ctx := models.ParseContext(c.Context)
	return conversationView{
		ID:           c.ID,
		Phone:        c.Phone,
		Name:         c.Name,
		Status:       c.Status,
		Context:      ctx,
		MessageCount: ctx.MessageCount(),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// listConversationsHandler handles GET /conversations?limit=&offset=
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("listConversationsHandler invoked", "method", r.Method, "path", r.URL.Path)

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be between 1 and 500"))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("offset must be a non-negative integer"))
		return
	}

	list, err := s.st.ListConversations(r.Context(), limit, offset)
	if err != nil {
		slog.Error("listConversationsHandler failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to list conversations"))
		return
	}

	views := make([]conversationView, 0, len(list))
	for _, c := range list {
		views = append(views, newConversationView(c))
	}
	slog.Debug("listConversationsHandler succeeded", "count", len(views))
	writeJSONResponse(w, http.StatusOK, models.Success(views))
}

// getConversationHandler handles GET /conversations/{phone}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	slog.Debug("getConversationHandler invoked", "phone", phone)

	c, err := s.st.GetConversation(r.Context(), phone)
	if err != nil {
		slog.Error("getConversationHandler failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to get conversation"))
		return
	}
	if c == nil {
		slog.Debug("getConversationHandler not found", "phone", phone)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newConversationView(*c)))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
