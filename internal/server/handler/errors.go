package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionsmarket/internal/auth"
	"github.com/alanyoungcy/opinionsmarket/internal/batcher"
	"github.com/alanyoungcy/opinionsmarket/internal/crypto"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps sentinels to responses. The first match wins, so wrapped
// sentinels resolve to their most specific entry.
var errorTable = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},

	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrZeroUnits, http.StatusBadRequest, "zero_units"},
	{domain.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{domain.ErrCannotSendToSelf, http.StatusBadRequest, "cannot_send_to_self"},
	{domain.ErrInvalidConfig, http.StatusBadRequest, "invalid_config"},
	{domain.ErrInvalidRate, http.StatusBadRequest, "invalid_rate"},
	{domain.ErrInvalidRelation, http.StatusBadRequest, "invalid_relation"},
	{domain.ErrInvalidParentPost, http.StatusBadRequest, "invalid_parent_post"},
	{domain.ErrAnswerMustTargetQuestion, http.StatusBadRequest, "answer_must_target_question"},
	{domain.ErrAnswerTargetNotRoot, http.StatusBadRequest, "answer_target_not_root"},
	{domain.ErrInvalidSessionExpiry, http.StatusBadRequest, "invalid_session_expiry"},
	{domain.ErrBaseCurrencyAlternative, http.StatusBadRequest, "base_currency_alternative"},
	{domain.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},

	{auth.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{auth.ErrSignatureMismatch, http.StatusUnauthorized, "signature_mismatch"},
	{crypto.ErrChallengeInvalid, http.StatusUnauthorized, "challenge_invalid"},

	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrSessionExpired, http.StatusForbidden, "session_expired"},

	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrMarketInitialized, http.StatusConflict, "market_initialized"},
	{domain.ErrCurrencyAlreadyRegistered, http.StatusConflict, "currency_already_registered"},
	{domain.ErrPostAlreadySettled, http.StatusConflict, "post_already_settled"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{batcher.ErrDuplicate, http.StatusConflict, "duplicate_request"},

	{domain.ErrPostNotOpen, http.StatusUnprocessableEntity, "post_not_open"},
	{domain.ErrPostExpired, http.StatusUnprocessableEntity, "post_expired"},
	{domain.ErrPostNotExpired, http.StatusUnprocessableEntity, "post_not_expired"},
	{domain.ErrPostNotSettled, http.StatusUnprocessableEntity, "post_not_settled"},
	{domain.ErrNoWinner, http.StatusUnprocessableEntity, "no_winner"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{domain.ErrTokenNotWithdrawable, http.StatusUnprocessableEntity, "token_not_withdrawable"},
	{domain.ErrMintNotEnabled, http.StatusUnprocessableEntity, "mint_not_enabled"},
	{domain.ErrMathOverflow, http.StatusUnprocessableEntity, "math_overflow"},

	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrMarketNotInitialized, http.StatusServiceUnavailable, "market_not_initialized"},
}

// statusFor returns the response for err. Unknown errors are a 500.
func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError answers with the mapped status. Internal errors are
// logged and their detail is withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
