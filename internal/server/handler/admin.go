package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
)

// AdminHandler serves market administration. Every route is behind
// RequireAdmin; the caller is the market admin identity.
type AdminHandler struct {
	market Market
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(m Market, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{market: m, logger: logger}
}

type registerCurrencyRequest struct {
	ID           string `json:"id"`
	PriceInBase  uint64 `json:"price_in_base"`
	Decimals     uint8  `json:"decimals"`
	Enabled      bool   `json:"enabled"`
	Withdrawable bool   `json:"withdrawable"`
}

// RegisterCurrency adds an alternative payment currency.
// POST /api/admin/currencies
func (h *AdminHandler) RegisterCurrency(w http.ResponseWriter, r *http.Request) {
	var req registerCurrencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	c, err := h.market.RegisterCurrency(r.Context(), caller(r), market.RegisterCurrencyParams{
		ID:           req.ID,
		PriceInBase:  req.PriceInBase,
		Decimals:     req.Decimals,
		Enabled:      req.Enabled,
		Withdrawable: req.Withdrawable,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin: currency registered", slog.String("currency", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

type updateCurrencyRequest struct {
	Enabled      *bool `json:"enabled,omitempty"`
	Withdrawable *bool `json:"withdrawable,omitempty"`
}

// UpdateCurrency toggles a currency's flags. Its rate cannot change.
// PATCH /api/admin/currencies/{id}
func (h *AdminHandler) UpdateCurrency(w http.ResponseWriter, r *http.Request) {
	var req updateCurrencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	c, err := h.market.UpdateCurrency(r.Context(), caller(r), pathParam(r, "id"), req.Enabled, req.Withdrawable)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type depositRequest struct {
	Identity string `json:"identity"`
	Currency string `json:"currency"`
	amountInput
}

// Deposit credits a participant with funds received off-engine.
// POST /api/admin/deposits
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
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
	bal, err := h.market.Deposit(r.Context(), caller(r), req.Identity, req.Currency, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  req.Identity,
		"deposited": money{Currency: req.Currency, Amount: amount, Display: formatAmount(amount, dec)},
		"balance":   money{Currency: req.Currency, Amount: bal, Display: formatAmount(bal, dec)},
	})
}

// configPatchRequest mirrors market.ConfigPatch with durations as Go
// duration strings ("72h", "30s").
type configPatchRequest struct {
	Admin                    *string          `json:"admin,omitempty"`
	ProtocolFeeBps           *uint64          `json:"protocol_fee_bps,omitempty"`
	CreatorFeeBps            *uint64          `json:"creator_fee_bps,omitempty"`
	ProtocolSettlementFeeBps *uint64          `json:"protocol_settlement_fee_bps,omitempty"`
	CreatorWinFeeBps         *uint64          `json:"creator_win_fee_bps,omitempty"`
	MotherFeeBps             *uint64          `json:"mother_fee_bps,omitempty"`
	BaseDuration             *string          `json:"base_duration,omitempty"`
	MaxDuration              *string          `json:"max_duration,omitempty"`
	ExtensionPerUnit         *string          `json:"extension_per_unit,omitempty"`
	CostPerUnit              *uint64          `json:"cost_per_unit,omitempty"`
	TieBreak                 *domain.TieBreak `json:"tie_break,omitempty"`
	InitialSocialScore       *int64           `json:"initial_social_score,omitempty"`
	MaxSessionLifetime       *string          `json:"max_session_lifetime,omitempty"`
}

func (req configPatchRequest) patch() (market.ConfigPatch, error) {
	p := market.ConfigPatch{
		Admin:                    req.Admin,
		ProtocolFeeBps:           req.ProtocolFeeBps,
		CreatorFeeBps:            req.CreatorFeeBps,
		ProtocolSettlementFeeBps: req.ProtocolSettlementFeeBps,
		CreatorWinFeeBps:         req.CreatorWinFeeBps,
		MotherFeeBps:             req.MotherFeeBps,
		CostPerUnit:              req.CostPerUnit,
		TieBreak:                 req.TieBreak,
		InitialSocialScore:       req.InitialSocialScore,
	}
	durations := []struct {
		name string
		in   *string
		out  **time.Duration
	}{
		{"base_duration", req.BaseDuration, &p.BaseDuration},
		{"max_duration", req.MaxDuration, &p.MaxDuration},
		{"extension_per_unit", req.ExtensionPerUnit, &p.ExtensionPerUnit},
		{"max_session_lifetime", req.MaxSessionLifetime, &p.MaxSessionLifetime},
	}
	for _, d := range durations {
		if d.in == nil {
			continue
		}
		v, err := time.ParseDuration(*d.in)
		if err != nil {
			return market.ConfigPatch{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, d.name, err)
		}
		*d.out = &v
	}
	return p, nil
}

// UpdateConfig applies a partial configuration change. Fields left out are
// unchanged; the merged result must still validate.
// PUT /api/admin/config
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	cfg, err := h.market.UpdateConfig(r.Context(), caller(r), patch)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "admin: config updated")
	writeJSON(w, http.StatusOK, cfg)
}

type reputationRequest struct {
	SocialScore *int64              `json:"social_score,omitempty"`
	Traits      *domain.TraitVector `json:"traits,omitempty"`
}

// UpdateReputation overwrites a participant's social score or traits.
// PUT /api/admin/participants/{id}/reputation
func (h *AdminHandler) UpdateReputation(w http.ResponseWriter, r *http.Request) {
	var req reputationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	p, err := h.market.UpdateReputation(r.Context(), caller(r), pathParam(r, "id"), market.ReputationUpdate{
		SocialScore: req.SocialScore,
		Traits:      req.Traits,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
