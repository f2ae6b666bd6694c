package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "rdengine", time.Hour)

	token, err := m.GenerateToken("alice", []string{ScopeResearchRead})
	require.NoError(t, err)

	p, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.True(t, p.HasScope(ScopeResearchRead))
	assert.False(t, p.HasScope(ScopeResearchWrite))
}

func TestJWTDefaultScopes(t *testing.T) {
	m := NewJWTManager("secret", "", 0)
	token, err := m.GenerateToken("svc", nil)
	require.NoError(t, err)
	p, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.ElementsMatch(t, AllScopes, p.Scopes)
}

func TestJWTRejections(t *testing.T) {
	m := NewJWTManager("secret", "rdengine", time.Minute)

	other := NewJWTManager("other-secret", "rdengine", time.Minute)
	foreign, err := other.GenerateToken("mallory", nil)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewJWTManager("secret", "someone-else", time.Minute)
	tok, err := wrongIssuer.GenerateToken("bob", nil)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager("secret", "rdengine", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err = expired.GenerateToken("carol", nil)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "eve", "iss": "rdengine"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer  abc ", "abc", nil},
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrInvalidHeader},
		{"Bearer ", "", ErrInvalidHeader},
	}
	for _, tt := range tests {
		got, err := ExtractBearerToken(tt.header)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestMiddleware(t *testing.T) {
	jm := NewJWTManager("secret", "rdengine", time.Hour)
	mw := NewMiddleware(jm, false, zaptest.NewLogger(t))

	var seen *Principal
	h := mw.RequireScope(ScopeResearchWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/research", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer garbage"))

	readOnly, err := jm.GenerateToken("reader", []string{ScopeResearchRead})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do("Bearer "+readOnly))

	writer, err := jm.GenerateToken("writer", []string{ScopeResearchWrite})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do("Bearer "+writer))
	require.NotNil(t, seen)
	assert.Equal(t, "writer", seen.Subject)
}

func TestMiddlewareSkipAuth(t *testing.T) {
	mw := NewMiddleware(nil, true, zaptest.NewLogger(t))
	h := mw.RequireScope(ScopeSessionsWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "dev", p.Subject)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
