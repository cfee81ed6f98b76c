package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
)

// Authenticator issues wallet challenges and exchanges signed challenges for
// access tokens.
type Authenticator interface {
	Challenge(address string) (string, error)
	Login(address, challenge, signature string) (auth.Token, error)
}

// AuthHandler serves the wallet login flow.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(a Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: a, logger: logger}
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
}

// Challenge returns a short-lived message for the wallet to sign.
// POST /api/auth/challenge
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	ch, err := h.auth.Challenge(req.Address)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{Address: req.Address, Challenge: ch})
}

type loginRequest struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Identity    string    `json:"identity"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies the signed challenge and returns a bearer token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tok, err := h.auth.Login(req.Address, req.Challenge, req.Signature)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "auth: login", slog.String("identity", tok.Identity))
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Identity:    tok.Identity,
		ExpiresAt:   tok.ExpiresAt,
	})
}
