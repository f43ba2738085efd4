package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/logging"
	"studiodesk.app/internal/ratelimit"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "bad id\nwith newline", seen)
	assert.Len(t, seen, 36)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	foreign := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	foreign.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, foreign)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestLogging_DoesNotLeakCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("studiodesk-api", "test", "json", slog.LevelInfo, &buf)
	h := RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/auth/reset-password?token=secret-token-value", strings.NewReader(`{"password":"Sup3r-Secret!"}`))
	req.Header.Set("Authorization", "Bearer secret-access-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"status":201`)
	assert.Contains(t, out, `"path":"/auth/reset-password"`)
	assert.Contains(t, out, `"request_id"`)
	assert.NotContains(t, out, "secret-token-value")
	assert.NotContains(t, out, "secret-access-token")
	assert.NotContains(t, out, "Sup3r-Secret!")
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, ratelimit.ErrUnavailable
}

func TestRateLimited_FailsOpen(t *testing.T) {
	env := newTestEnv(t)
	api, err := New(env.deps(), Options{})
	require.NoError(t, err)

	h := api.rateLimited("/auth/login", erroringLimiter{}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRateLimited_KeysByClient(t *testing.T) {
	env := newTestEnv(t)
	api, err := New(env.deps(), Options{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}})
	require.NoError(t, err)
	limiter := ratelimit.NewMemory(1, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	h := api.rateLimited("/auth/login", limiter, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	call := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Behind the trusted proxy each forwarded client has its own budget.
	assert.Equal(t, http.StatusOK, call("10.0.0.1:4000", "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:4000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:4000", "203.0.113.2"))

	// A direct client cannot buy a fresh budget with a forged header.
	assert.Equal(t, http.StatusOK, call("192.0.2.9:5000", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("192.0.2.9:5000", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, call("192.0.2.9:5001", ""))
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		xff     []string
		want    string
	}{
		{"no header", trusted, "192.0.2.7:5123", nil, "192.0.2.7"},
		{"untrusted peer ignores header", trusted, "192.0.2.7:5123", []string{"198.51.100.4"}, "192.0.2.7"},
		{"no trusted proxies ignores header", nil, "10.0.0.1:80", []string{"198.51.100.4"}, "10.0.0.1"},
		{"trusted peer", trusted, "10.0.0.1:80", []string{" 198.51.100.4 "}, "198.51.100.4"},
		{"rightmost untrusted hop wins", trusted, "10.0.0.1:80", []string{"6.6.6.6, 198.51.100.4, 10.1.2.3"}, "198.51.100.4"},
		{"multiple header lines", trusted, "10.0.0.1:80", []string{"6.6.6.6", "198.51.100.4"}, "198.51.100.4"},
		{"only proxies in chain", trusted, "10.0.0.1:80", []string{"10.9.9.9"}, "10.0.0.1"},
		{"ipv6 proxy", trusted, "[2001:db8::1]:443", []string{"198.51.100.8"}, "198.51.100.8"},
		{"remote without port", trusted, "192.0.2.7", nil, "192.0.2.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{opts: Options{TrustedProxies: tt.trusted}}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, api.clientIP(req))
		})
	}
}
