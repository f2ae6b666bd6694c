package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/server"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps service, session and workflow errors onto HTTP codes.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, models.ErrInvalidOptions),
		errors.Is(err, server.ErrInvalidRequestID),
		errors.Is(err, session.ErrInvalidKey),
		errors.Is(err, session.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, server.ErrRunNotFound), errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Application errors first: a stage failure or deadline is never a cancellation,
	// whatever its cause chain holds.
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		resp := errorResponse{Error: appErr.Error()}
		if appErr.HasDetails() {
			_ = appErr.Details(&resp.Stage)
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	if temporal.IsCanceledError(err) {
		writeError(w, http.StatusConflict, "research run was cancelled")
		return
	}
	logger.Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
