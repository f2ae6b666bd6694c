package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/auth"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/server"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
)

type fakeResearch struct {
	lastReq   server.RunRequest
	runErr    error
	cancelled []string
	states    map[string]*models.ResearchState
}

func (f *fakeResearch) StartRun(_ context.Context, req server.RunRequest) (string, error) {
	f.lastReq = req
	if _, err := models.ValidateQuery(req.Query); err != nil {
		return "", err
	}
	return "research-async", nil
}

func (f *fakeResearch) RunResearch(_ context.Context, req server.RunRequest) (*models.ResearchResult, error) {
	f.lastReq = req
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &models.ResearchResult{
		RequestID:       "research-sync",
		StagesCompleted: []string{models.StagePlanning},
		TokensUsed:      10,
	}, nil
}

func (f *fakeResearch) GetRun(_ context.Context, id string) (*models.ResearchState, error) {
	if st, ok := f.states[id]; ok {
		return st, nil
	}
	return nil, server.ErrRunNotFound
}

func (f *fakeResearch) CancelRun(_ context.Context, id string) error {
	if _, ok := f.states[id]; !ok {
		return server.ErrRunNotFound
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeResearch) Health() server.HealthStatus {
	return server.HealthStatus{Status: "healthy", Timestamp: time.Unix(0, 0).UTC()}
}

func newMux(t *testing.T, research ResearchAPI, mw *auth.Middleware) (*http.ServeMux, *session.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := session.NewStore(session.NewMemoryBackend(), logger)
	t.Cleanup(func() { _ = store.Close() })

	mux := http.NewServeMux()
	NewResearchHandler(research, logger).RegisterRoutes(mux, mw)
	NewSessionHandler(store, logger).RegisterRoutes(mux, mw)
	return mux, store
}

func devMiddleware(t *testing.T) *auth.Middleware {
	return auth.NewMiddleware(nil, true, zaptest.NewLogger(t))
}

func do(mux http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRunResearchSync(t *testing.T) {
	f := &fakeResearch{}
	mux, _ := newMux(t, f, devMiddleware(t))

	rec := do(mux, http.MethodPost, "/research", `{"query":"solid-state batteries","sessionId":"s-1","options":{"maxIterations":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.ResearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "research-sync", result.RequestID)
	assert.Equal(t, "s-1", f.lastReq.SessionID)
	assert.Equal(t, 1, f.lastReq.Options.MaxIterations)
}

func TestRunResearchAsync(t *testing.T) {
	mux, _ := newMux(t, &fakeResearch{}, devMiddleware(t))

	rec := do(mux, http.MethodPost, "/research?async=true", `{"query":"q"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requestId":"research-async"`)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
}

func TestRunResearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		runErr error
		code   int
		want   string
	}{
		{name: "malformed body", body: `{"query":`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"query":"q","userId":"x"}`, code: http.StatusBadRequest},
		{name: "empty query", body: `{"query":"q"}`, runErr: models.ErrEmptyQuery, code: http.StatusBadRequest},
		{name: "bad request id", body: `{"query":"q"}`, runErr: server.ErrInvalidRequestID, code: http.StatusBadRequest},
		{name: "cancelled", body: `{"query":"q"}`, runErr: temporal.NewCanceledError("L1_discovery"), code: http.StatusConflict},
		{
			name:   "stage failure",
			body:   `{"query":"q"}`,
			runErr: temporal.NewNonRetryableApplicationError("L0_query_planning: boom", "StageFailed", nil, models.StagePlanning),
			code:   http.StatusBadGateway,
			want:   `"stage":"L0_query_planning"`,
		},
		{
			name:   "deadline exceeded",
			body:   `{"query":"q"}`,
			runErr: temporal.NewNonRetryableApplicationError("pipeline deadline of 2m0s exceeded", "DeadlineExceeded", temporal.NewCanceledError(), models.StageDiscovery),
			code:   http.StatusBadGateway,
			want:   `"stage":"L1_discovery"`,
		},
		{name: "unexpected", body: `{"query":"q"}`, runErr: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newMux(t, &fakeResearch{runErr: tt.runErr}, devMiddleware(t))
			rec := do(mux, http.MethodPost, "/research", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.want != "" {
				assert.Contains(t, rec.Body.String(), tt.want)
			}
		})
	}
}

func TestGetAndCancelResearch(t *testing.T) {
	f := &fakeResearch{states: map[string]*models.ResearchState{
		"research-1": {RequestID: "research-1", Status: models.StatusSynthesizing},
	}}
	mux, _ := newMux(t, f, devMiddleware(t))

	rec := do(mux, http.MethodGet, "/research/research-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"synthesizing"`)

	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/research/research-2", "").Code)

	rec = do(mux, http.MethodPost, "/research/research-1/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"research-1"}, f.cancelled)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodPost, "/research/research-2/cancel", "").Code)
}

func TestHealthIsPublic(t *testing.T) {
	jwt := auth.NewJWTManager("secret", "rdengine", time.Hour)
	mux, _ := newMux(t, &fakeResearch{}, auth.NewMiddleware(jwt, false, zaptest.NewLogger(t)))

	rec := do(mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestAuthEnforcedOnResearch(t *testing.T) {
	jwt := auth.NewJWTManager("secret", "rdengine", time.Hour)
	mux, _ := newMux(t, &fakeResearch{}, auth.NewMiddleware(jwt, false, zaptest.NewLogger(t)))

	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodPost, "/research", `{"query":"q"}`).Code)

	readOnly, err := jwt.GenerateToken("alice", []string{auth.ScopeResearchRead})
	require.NoError(t, err)
	rec := do(mux, http.MethodPost, "/research", `{"query":"q"}`, "Authorization", "Bearer "+readOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	full, err := jwt.GenerateToken("alice", nil)
	require.NoError(t, err)
	rec = do(mux, http.MethodPost, "/research", `{"query":"q"}`, "Authorization", "Bearer "+full)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	mux, _ := newMux(t, &fakeResearch{}, devMiddleware(t))

	rec := do(mux, http.MethodPost, "/sessions/s-1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, content := range []string{"first", "second", "third"} {
		rec = do(mux, http.MethodPost, "/sessions/s-1/messages", `{"role":"user","content":"`+content+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = do(mux, http.MethodPost, "/sessions/s-1/research", `{"requestId":"research-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(mux, http.MethodGet, "/sessions/s-1/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "second", hist.Messages[0].Content)
	assert.Equal(t, "third", hist.Messages[1].Content)

	rec = do(mux, http.MethodGet, "/sessions/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "s-1", info.SessionID)
	assert.Equal(t, 3, info.MessageCount)
	assert.Equal(t, 1, info.ResearchCount)
}

func TestSessionUnknownReadsEmpty(t *testing.T) {
	mux, _ := newMux(t, &fakeResearch{}, devMiddleware(t))

	rec := do(mux, http.MethodGet, "/sessions/missing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "missing", info.SessionID)
	assert.Zero(t, info.MessageCount)
	assert.True(t, info.CreatedAt.IsZero())

	rec = do(mux, http.MethodGet, "/sessions/missing/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Empty(t, hist.Messages)
}

func TestSessionEndpointErrors(t *testing.T) {
	mux, _ := newMux(t, &fakeResearch{}, devMiddleware(t))

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/sessions/s-1/history?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/sessions/s-1/messages", `{"role":"robot","content":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/sessions/s-1/research", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/sessions/bad%20key", "").Code)
}
