package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/auth"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
)

// SessionAPI is the part of session.Store the handlers use.
type SessionAPI interface {
	CreateSession(ctx context.Context, id string) (*session.Session, error)
	AddMessage(ctx context.Context, id, role, content string) (*session.Session, error)
	AddResearch(ctx context.Context, id, requestID string) (*session.Session, error)
	GetHistory(ctx context.Context, id string, limit int) ([]session.Message, error)
	GetSessionInfo(ctx context.Context, id string) (session.Info, error)
}

// SessionHandler exposes the session store over HTTP.
type SessionHandler struct {
	store  SessionAPI
	logger *zap.Logger
}

// NewSessionHandler creates a new handler.
func NewSessionHandler(store SessionAPI, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the provided mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	write := func(f http.HandlerFunc) http.Handler { return mw.RequireScope(auth.ScopeSessionsWrite, f) }
	read := func(f http.HandlerFunc) http.Handler { return mw.RequireScope(auth.ScopeSessionsRead, f) }

	mux.Handle("POST /sessions/{id}", write(h.handleCreate))
	mux.Handle("POST /sessions/{id}/messages", write(h.handleAddMessage))
	mux.Handle("POST /sessions/{id}/research", write(h.handleAddResearch))
	mux.Handle("GET /sessions/{id}/history", read(h.handleHistory))
	mux.Handle("GET /sessions/{id}", read(h.handleInfo))
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type researchRequest struct {
	RequestID string `json:"requestId"`
}

type historyResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []session.Message `json:"messages"`
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.CreateSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *SessionHandler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s, err := h.store.AddMessage(r.Context(), r.PathValue("id"), req.Role, req.Content)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) handleAddResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(w, r, &req); err != nil || req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	s, err := h.store.AddResearch(r.Context(), r.PathValue("id"), req.RequestID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	id := r.PathValue("id")
	msgs, err := h.store.GetHistory(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
}

func (h *SessionHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.GetSessionInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
