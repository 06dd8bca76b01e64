package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": p.UserID, "superuser": p.IsSuperuser()})
	})
}

func TestJWTRoundTripWithRoles(t *testing.T) {
	auth := NewJWTAuth("test-secret", zap.NewNop())
	userID := uuid.New()

	token, err := auth.GenerateToken(userID, models.RoleSuperuser)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, []string{models.RoleSuperuser}, claims.Roles)

	other := NewJWTAuth("another-secret", zap.NewNop())
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	auth := NewJWTAuth("test-secret", zap.NewNop())
	auth.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, err := auth.GenerateToken(uuid.New())
	require.NoError(t, err)

	auth.now = time.Now
	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewJWTAuth("test-secret", zap.NewNop())
	h := auth.Middleware(principalEcho())
	userID := uuid.New()
	token, err := auth.GenerateToken(userID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/health", "", http.StatusNoContent},
		{"missing header", "/communities", "", http.StatusUnauthorized},
		{"wrong scheme", "/communities", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/communities", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/communities", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusUnauthorized {
				var body utils.ErrorBody
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, utils.ErrUnauthorized, body.Error)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORSMiddleware(DefaultCORSConfig([]string{"https://clubs.example"}))(principalEcho())

	req := httptest.NewRequest(http.MethodOptions, "/communities", nil)
	req.Header.Set("Origin", "https://clubs.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://clubs.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/communities", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLoggerCounts(t *testing.T) {
	metrics := utils.NewMetricsCollector()
	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := RequestLogger(zap.NewNop(), metrics)(fail)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Requests)
	assert.Equal(t, uint64(1), snap.Errors)
}
