package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:    "development",
		JWTSecret:      "test-secret",
		AllowedOrigins: []string{"http://localhost:3000", "https://board.example.com"},
	}
}

func whoami(w http.ResponseWriter, r *http.Request) {
	user, err := RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"id": user.ID, "username": user.Username})
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	token, _, err := utils.NewJWTService(cfg.JWTSecret).GenerateAccessToken("u1", "alice", time.Hour)
	require.NoError(t, err)

	h := AuthMiddleware(cfg, zerolog.Nop())(http.HandlerFunc(whoami))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query param", "", "?access_token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"no bearer prefix", token, "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tasks"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"username":"alice"`)
			}
		})
	}
}

func TestRequestLoggerRecordsUserAndStatus(t *testing.T) {
	cfg := testConfig()
	token, _, err := utils.NewJWTService(cfg.JWTSecret).GenerateAccessToken("u1", "alice", time.Hour)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestLogger(logger)(AuthMiddleware(cfg, zerolog.Nop())(http.HandlerFunc(whoami)))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "u1", line["user"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
	assert.Equal(t, "/api/tasks", line["path"])
}

func TestRecoveryReturns500(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"
	h := Recovery(cfg, zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	h := RateLimitByIP(0.001, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2"), "limits are per client")
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimitByIP(0, 0)(next)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestWebsocketOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"localhost:3000", "board.example.com"}, WebsocketOriginPatterns(testConfig()))
	assert.Equal(t, []string{"*"}, WebsocketOriginPatterns(&config.Config{AllowedOrigins: []string{"*"}}))
}
