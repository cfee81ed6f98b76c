// Package server assembles the HTTP API: routes, middleware and the
// WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/metrics"
	"github.com/alanyoungcy/opinionsmarket/internal/server/handler"
	"github.com/alanyoungcy/opinionsmarket/internal/server/middleware"
	"github.com/alanyoungcy/opinionsmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
	// AdminAPIKey, when set, authenticates as AdminIdentity with admin
	// rights.
	AdminAPIKey   string
	AdminIdentity string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	Market  *handler.MarketHandler
	Account *handler.AccountHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the market daemon.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// hub may be nil, in which case /ws is not served.
func NewServer(
	cfg Config,
	h Handlers,
	hub *ws.Hub,
	tokens middleware.TokenVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, h)

	mux.Handle("GET /metrics", metrics.Handler())
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Outermost first: logging sees every response, including rejections.
	var chain http.Handler = metrics.InstrumentHandler(mux)
	chain = middleware.Authenticate(tokens, cfg.AdminAPIKey, cfg.AdminIdentity)(chain)
	if limiter != nil {
		chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	chain = middleware.Logging(logger)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers) {
	auth := middleware.RequireAuth
	admin := middleware.RequireAdmin

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/auth/challenge", h.Auth.Challenge)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)

	// Public reads.
	mux.HandleFunc("GET /api/market/config", h.Market.GetConfig)
	mux.HandleFunc("GET /api/currencies", h.Market.ListCurrencies)
	mux.HandleFunc("GET /api/posts", h.Market.ListPosts)
	mux.HandleFunc("GET /api/posts/{id}", h.Market.GetPost)
	mux.HandleFunc("GET /api/posts/{id}/quote", h.Market.QuoteVote)
	mux.HandleFunc("GET /api/posts/{id}/snapshots/{currency}", h.Market.GetSnapshot)
	mux.HandleFunc("GET /api/participants/{id}", h.Account.GetParticipant)
	mux.HandleFunc("GET /api/participants/{id}/positions/{post}", h.Account.GetPosition)
	mux.HandleFunc("GET /api/balances/{owner_kind}/{owner_id}/{currency}", h.Account.GetBalance)

	// Authenticated writes.
	mux.HandleFunc("POST /api/participants", auth(h.Account.CreateParticipant))
	mux.HandleFunc("POST /api/posts", auth(h.Market.CreatePost))
	mux.HandleFunc("POST /api/posts/{id}/votes", auth(h.Market.Vote))
	mux.HandleFunc("POST /api/posts/{id}/settle", auth(h.Market.Settle))
	mux.HandleFunc("POST /api/posts/{id}/claims", auth(h.Market.Claim))
	mux.HandleFunc("POST /api/posts/{id}/forced-outcome", auth(h.Market.SetForcedOutcome))
	mux.HandleFunc("POST /api/sessions", auth(h.Account.RegisterSession))
	mux.HandleFunc("POST /api/transfers", auth(h.Account.Send))
	mux.HandleFunc("POST /api/withdrawals", auth(h.Account.Withdraw))
	mux.HandleFunc("POST /api/creator-earnings", auth(h.Account.CollectCreatorEarnings))

	// Admin.
	mux.HandleFunc("POST /api/admin/currencies", admin(h.Admin.RegisterCurrency))
	mux.HandleFunc("PATCH /api/admin/currencies/{id}", admin(h.Admin.UpdateCurrency))
	mux.HandleFunc("POST /api/admin/deposits", admin(h.Admin.Deposit))
	mux.HandleFunc("PUT /api/admin/config", admin(h.Admin.UpdateConfig))
	mux.HandleFunc("PUT /api/admin/participants/{id}/reputation", admin(h.Admin.UpdateReputation))
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
