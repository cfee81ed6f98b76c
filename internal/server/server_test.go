package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/cache/memory"
	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
	"github.com/alanyoungcy/opinionsmarket/internal/market/markettest"
	"github.com/alanyoungcy/opinionsmarket/internal/server/handler"
	"github.com/alanyoungcy/opinionsmarket/internal/service"
)

const adminKey = "admin-key-for-tests"

type testServer struct {
	*markettest.Fixture
	url    string
	tokens *auth.Service
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	f := markettest.New(t)
	logger := markettest.Discard()
	svc := service.NewMarketService(f.Engine, memory.NewPostCache(time.Minute), memory.NewBus(100), logger)
	tokens := auth.NewService("0123456789abcdef0123", time.Hour, time.Minute)

	srv := NewServer(Config{
		RateLimit:     rateLimit,
		RateWindow:    time.Minute,
		AdminAPIKey:   adminKey,
		AdminIdentity: markettest.Admin,
	}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Auth:    handler.NewAuthHandler(tokens, logger),
		Market:  handler.NewMarketHandler(svc, nil, logger),
		Account: handler.NewAccountHandler(svc, logger),
		Admin:   handler.NewAdminHandler(svc, logger),
	}, nil, tokens, memory.NewRateLimiter(), logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Fixture: f, url: ts.URL, tokens: tokens}
}

func (s *testServer) call(t *testing.T, method, path string, headers map[string]string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

// login runs the wallet challenge flow over HTTP.
func (s *testServer) login(t *testing.T) (string, string) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)), 1)
	require.NoError(t, err)

	code, data := s.call(t, http.MethodPost, "/api/auth/challenge", nil, map[string]string{"address": wallet.Address()})
	require.Equal(t, http.StatusOK, code, string(data))
	var ch struct {
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(data, &ch))

	sig, err := wallet.SignText(ch.Challenge)
	require.NoError(t, err)
	code, data = s.call(t, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"address": wallet.Address(), "challenge": ch.Challenge, "signature": sig,
	})
	require.Equal(t, http.StatusOK, code, string(data))
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(data, &tok))
	return wallet.Address(), tok.AccessToken
}

func TestServer_AuthenticatedFlow(t *testing.T) {
	s := newTestServer(t, 0)
	identity, tok := s.login(t)

	code, _ := s.call(t, http.MethodPost, "/api/posts", nil, map[string]string{"content_id": "c"})
	assert.Equal(t, http.StatusUnauthorized, code, "writes need a token")

	code, _ = s.call(t, http.MethodPost, "/api/posts", bearer("garbage"), map[string]string{"content_id": "c"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, data := s.call(t, http.MethodPost, "/api/admin/deposits", map[string]string{"X-API-Key": adminKey}, map[string]any{
		"identity": identity, "currency": markettest.Base, "amount": 1_000_000_000,
	})
	require.Equal(t, http.StatusOK, code, string(data))

	code, data = s.call(t, http.MethodPost, "/api/posts", bearer(tok), map[string]string{"content_id": "c"})
	require.Equal(t, http.StatusCreated, code, string(data))
	var post struct {
		ID      string `json:"id"`
		Creator string `json:"creator"`
	}
	require.NoError(t, json.Unmarshal(data, &post))
	assert.Equal(t, identity, post.Creator)

	code, data = s.call(t, http.MethodPost, "/api/posts/"+post.ID+"/votes", bearer(tok), map[string]any{"side": "pump", "units": 2})
	require.Equal(t, http.StatusOK, code, string(data))

	code, _ = s.call(t, http.MethodGet, "/api/participants/"+identity+"/positions/"+post.ID, nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.call(t, http.MethodPost, "/api/admin/deposits", bearer(tok), map[string]any{
		"identity": identity, "currency": markettest.Base, "amount": 1,
	})
	assert.Equal(t, http.StatusForbidden, code, "user tokens are not admin")
}

func TestServer_MetricsAndHealth(t *testing.T) {
	s := newTestServer(t, 0)

	code, _ := s.call(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.call(t, http.MethodGet, "/api/market/config", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, data := s.call(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), "opinions_http_requests_total")
	assert.Contains(t, string(data), `route="/api/market/config"`)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	for range 2 {
		code, _ := s.call(t, http.MethodGet, "/api/market/config", nil, nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := s.call(t, http.MethodGet, "/api/market/config", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = s.call(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code, "health is exempt")
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, 0)
	code, _ := s.call(t, http.MethodOptions, "/api/posts", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "POST",
	}, nil)
	assert.Equal(t, http.StatusNoContent, code)
}
