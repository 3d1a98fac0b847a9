package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/intercept"
)

func TestRateLimiter(t *testing.T) {
	rl, err := newRateLimiter(config.RateLimitConfig{RequestsPerMin: 2, MaxClients: 1})
	require.NoError(t, err)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	// a second client evicts the first one's bucket
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		remote string
		want   string
	}{
		{"forwarded chain", http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}}, "10.0.0.1:443", "203.0.113.7"},
		{"real ip", http.Header{"X-Real-Ip": {" 203.0.113.8 "}}, "10.0.0.1:443", "203.0.113.8"},
		{"peer", http.Header{}, "192.0.2.1:5555", "192.0.2.1"},
		{"peer without port", http.Header{}, "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{Header: tt.header, RemoteAddr: tt.remote}
			assert.Equal(t, tt.want, clientKey(r))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Upstream.Ollama = ""
	cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1}

	coord := intercept.New(cfg.Channels, intercept.Deps{})
	t.Cleanup(coord.Close)
	s, err := New(cfg, Deps{Coordinator: coord}, nil)
	require.NoError(t, err)

	scan := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(`{"text":"hello"}`))
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, scan("192.0.2.1:1000").Code)

	limited := scan("192.0.2.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, scan("192.0.2.2:1000").Code)

	// health checks are never limited
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1002"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
