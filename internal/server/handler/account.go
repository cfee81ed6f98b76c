package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
)

// AccountHandler serves participants, session grants and vault balances.
type AccountHandler struct {
	market Market
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(m Market, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{market: m, logger: logger}
}

type participantRequest struct {
	Identity string `json:"identity,omitempty"`
}

// CreateParticipant registers the caller, or the given identity, with the
// initial social score.
// POST /api/participants
func (h *AccountHandler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	p, err := h.market.CreateParticipant(r.Context(), orCaller(r, req.Identity))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetParticipant returns a participant record.
// GET /api/participants/{id}
func (h *AccountHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.market.Participant(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPosition returns a participant's stake on a post.
// GET /api/participants/{id}/positions/{post}
func (h *AccountHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.market.Position(r.Context(), pathParam(r, "id"), pathParam(r, "post"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type balanceResponse struct {
	Owner domain.Owner `json:"owner"`
	money
}

// GetBalance returns one vault balance.
// GET /api/balances/{owner_kind}/{owner_id}/{currency}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner := domain.Owner{Kind: domain.OwnerKind(pathParam(r, "owner_kind")), ID: pathParam(r, "owner_id")}
	if !owner.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown owner kind")
		return
	}
	currency := pathParam(r, "currency")
	amount, err := h.market.Balance(r.Context(), owner, currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	m, err := newMoney(r.Context(), h.market, currency, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Owner: owner, money: m})
}

type sessionRequest struct {
	Participant string    `json:"participant,omitempty"`
	SessionKey  string    `json:"session_key"`
	ExpiresAt   time.Time `json:"expires_at"`
	Privileges  []string  `json:"privileges,omitempty"`
	Signature   string    `json:"signature"`
}

// RegisterSession records a participant-signed grant for a session key.
// The signature, not the bearer token, proves the participant's consent.
// POST /api/sessions
func (h *AccountHandler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	g, err := h.market.RegisterSession(r.Context(), market.RegisterSessionParams{
		Participant: orCaller(r, req.Participant),
		SessionKey:  req.SessionKey,
		ExpiresAt:   req.ExpiresAt,
		Privileges:  req.Privileges,
		Signature:   req.Signature,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type transferRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Currency string `json:"currency"`
	amountInput
}

// Send moves funds between two participant vaults.
// POST /api/transfers
func (h *AccountHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	dec, err := decimalsOf(r.Context(), h.market, req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := req.resolve(dec)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	from := orCaller(r, req.From)
	if err := h.market.Send(r.Context(), caller(r), from, req.To, req.Currency, amount); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     from,
		"to":       req.To,
		"currency": req.Currency,
		"amount":   amount,
		"display":  formatAmount(amount, dec),
	})
}

type withdrawRequest struct {
	Identity string `json:"identity,omitempty"`
	Currency string `json:"currency"`
	amountInput
}

// Withdraw releases funds from the caller's vault.
// POST /api/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	dec, err := decimalsOf(r.Context(), h.market, req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	amount, err := req.resolve(dec)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	identity := orCaller(r, req.Identity)
	left, err := h.market.Withdraw(r.Context(), caller(r), identity, req.Currency, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  identity,
		"withdrawn": money{Currency: req.Currency, Amount: amount, Display: formatAmount(amount, dec)},
		"balance":   money{Currency: req.Currency, Amount: left, Display: formatAmount(left, dec)},
	})
}

type creatorEarningsRequest struct {
	Creator  string `json:"creator,omitempty"`
	Currency string `json:"currency"`
}

// CollectCreatorEarnings moves accumulated creator fees into the creator's
// spendable vault.
// POST /api/creator-earnings
func (h *AccountHandler) CollectCreatorEarnings(w http.ResponseWriter, r *http.Request) {
	var req creatorEarningsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	creator := orCaller(r, req.Creator)
	amount, err := h.market.CollectCreatorEarnings(r.Context(), caller(r), creator, req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	m, err := newMoney(r.Context(), h.market, req.Currency, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": creator, "collected": m})
}
