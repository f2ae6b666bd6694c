package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/auth"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/server"
)

// ResearchAPI is the part of server.ResearchService the handlers use.
type ResearchAPI interface {
	StartRun(ctx context.Context, req server.RunRequest) (string, error)
	RunResearch(ctx context.Context, req server.RunRequest) (*models.ResearchResult, error)
	GetRun(ctx context.Context, requestID string) (*models.ResearchState, error)
	CancelRun(ctx context.Context, requestID string) error
	Health() server.HealthStatus
}

// ResearchHandler serves research runs over HTTP.
type ResearchHandler struct {
	svc    ResearchAPI
	logger *zap.Logger
}

// NewResearchHandler creates a new handler.
func NewResearchHandler(svc ResearchAPI, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers research routes on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.Handle("POST /research", mw.RequireScope(auth.ScopeResearchWrite, http.HandlerFunc(h.handleRun)))
	mux.Handle("GET /research/{id}", mw.RequireScope(auth.ScopeResearchRead, http.HandlerFunc(h.handleGet)))
	mux.Handle("POST /research/{id}/cancel", mw.RequireScope(auth.ScopeResearchWrite, http.HandlerFunc(h.handleCancel)))
	mux.HandleFunc("GET /health", h.handleHealth)
}

type startedResponse struct {
	RequestID string                `json:"requestId"`
	Status    models.ResearchStatus `json:"status"`
}

// handleRun waits for the result unless ?async=true, which answers 202 with the request id.
func (h *ResearchHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req server.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		id, err := h.svc.StartRun(r.Context(), req)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, startedResponse{RequestID: id, Status: models.StatusPending})
		return
	}

	result, err := h.svc.RunResearch(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *ResearchHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.CancelRun(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		h.logger.Info("Research cancellation requested", zap.String("request_id", id), zap.String("subject", p.Subject))
	}
	writeJSON(w, http.StatusAccepted, startedResponse{RequestID: id, Status: models.StatusCancelled})
}

func (h *ResearchHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}
