package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/cache/memory"
)

func whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	if p.Admin {
		w.Write([]byte("admin:"))
	}
	w.Write([]byte(p.Identity))
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewService("0123456789abcdef0123", time.Hour, time.Minute)
	tok, err := tokens.Issue("0xAlice", false)
	require.NoError(t, err)
	h := Authenticate(tokens, "admin-key", "0xAdmin")(http.HandlerFunc(whoami))

	cases := []struct {
		name   string
		header string
		value  string
		status int
		body   string
	}{
		{"anonymous", "", "", http.StatusOK, "anonymous"},
		{"bearer jwt", "Authorization", "Bearer " + tok.AccessToken, http.StatusOK, "0xAlice"},
		{"api key", "X-API-Key", "admin-key", http.StatusOK, "admin:0xAdmin"},
		{"api key as bearer", "Authorization", "bearer admin-key", http.StatusOK, "admin:0xAdmin"},
		{"bad token", "Authorization", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRequireAuthAndAdmin(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	run := func(h http.HandlerFunc, p *auth.Principal) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if p != nil {
			req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	user := &auth.Principal{Identity: "0xAlice"}
	admin := &auth.Principal{Identity: "0xAdmin", Admin: true}

	assert.Equal(t, http.StatusUnauthorized, run(RequireAuth(ok), nil))
	assert.Equal(t, http.StatusNoContent, run(RequireAuth(ok), user))
	assert.Equal(t, http.StatusUnauthorized, run(RequireAdmin(ok), nil))
	assert.Equal(t, http.StatusForbidden, run(RequireAdmin(ok), user))
	assert.Equal(t, http.StatusNoContent, run(RequireAdmin(ok), admin))
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(memory.NewRateLimiter(), 2, time.Minute, logger)(http.HandlerFunc(whoami))

	call := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("/api/posts", "1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, call("/api/posts", "1.1.1.1").Code)
	limited := call("/api/posts", "1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("/api/posts", "2.2.2.2").Code, "limits are per client")
	assert.Equal(t, http.StatusOK, call("/api/health", "1.1.1.1").Code, "health is exempt")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(whoami))

	pre := httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
	pre.Header.Set("Origin", "https://app.example")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	other := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	other.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	tokens := auth.NewService("0123456789abcdef0123", time.Hour, time.Minute)
	h := Logging(logger)(Authenticate(tokens, "admin-key", "0xAdmin")(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) },
	)))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("X-API-Key", "admin-key")
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	line := buf.String()
	assert.Contains(t, line, `"level":"WARN"`)
	assert.Contains(t, line, `"status":418`)
	assert.Contains(t, line, `"identity":"0xAdmin"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36, "generated ids are uuids")
}
