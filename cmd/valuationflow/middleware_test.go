package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/config"
	"github.com/BaSui01/valuationflow/internal/ctxkeys"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler()), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})
	h := Chain(inner, SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.Header.Set("X-Request-ID", "req-123")
		w := serve(h, r)
		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "req-123", seen)
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Chain(panicking, RequestID(), Recovery(zap.NewNop()))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/valuations", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/valuations", "/api/v1/valuations"},
		{"/api/v1/sessions/run-42/checkpoints", "/api/v1/sessions/:id/checkpoints"},
		{"/api/v1/sessions/ACME-2024/events", "/api/v1/sessions/:id/events"},
		{"/api/v1/other/12345", "/api/v1/other/:id"},
		{"/api/v1/other/550e8400-e29b-41d4-a716-446655440000", "/api/v1/other/:id"},
		{"/unknown/path", "/unknown/path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	w := serve(MetricsMiddleware(nil)(okHandler()), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

// =============================================================================
// 🔐 Auth
// =============================================================================

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:   true,
		APIKeys:   []string{"key-1"},
		JWTSecret: "secret",
		JWTIssuer: "valuationflow",
	}

	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = ctxkeys.Principal(r.Context())
	})
	h := Auth(cfg, publicPaths, zap.NewNop())(inner)

	valid := jwt.RegisteredClaims{
		Subject:   "analyst-7",
		Issuer:    "valuationflow",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name      string
		path      string
		apiKey    string
		bearer    string
		wantCode  int
		principal string
	}{
		{name: "public path", path: "/health", wantCode: http.StatusOK},
		{name: "missing credentials", path: "/api/v1/valuations", wantCode: http.StatusUnauthorized},
		{name: "valid api key", path: "/api/v1/valuations", apiKey: "key-1", wantCode: http.StatusOK, principal: "api_key"},
		{name: "wrong api key", path: "/api/v1/valuations", apiKey: "nope", wantCode: http.StatusUnauthorized},
		{name: "valid token", path: "/api/v1/valuations", bearer: signToken(t, "secret", valid), wantCode: http.StatusOK, principal: "analyst-7"},
		{name: "wrong secret", path: "/api/v1/valuations", bearer: signToken(t, "other", valid), wantCode: http.StatusUnauthorized},
		{
			name: "wrong issuer", path: "/api/v1/valuations", wantCode: http.StatusUnauthorized,
			bearer: signToken(t, "secret", jwt.RegisteredClaims{Issuer: "else", ExpiresAt: valid.ExpiresAt}),
		},
		{
			name: "expired token", path: "/api/v1/valuations", wantCode: http.StatusUnauthorized,
			bearer: signToken(t, "secret", jwt.RegisteredClaims{Issuer: "valuationflow", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
		},
		{
			name: "token without expiry", path: "/api/v1/valuations", wantCode: http.StatusUnauthorized,
			bearer: signToken(t, "secret", jwt.RegisteredClaims{Issuer: "valuationflow"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal = ""
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.apiKey != "" {
				r.Header.Set("X-API-Key", tt.apiKey)
			}
			if tt.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := serve(h, r)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
			}
			assert.Equal(t, tt.principal, principal)
		})
	}
}

func TestAuth_BearerRejectedWithoutSecret(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, APIKeys: []string{"key-1"}}
	h := Auth(cfg, nil, zap.NewNop())(okHandler())

	token := signToken(t, "any-secret", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s/checkpoints", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())
	request := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/valuations", nil)
		r.RemoteAddr = addr
		return serve(h, r)
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)

	w := request("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// 其他客户端有独立的令牌桶
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)
}
