package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/opinionsmarket/internal/batcher"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

// Market is the market surface the HTTP handlers depend on.
// *service.MarketService implements it.
type Market interface {
	Config(ctx context.Context) (domain.MarketConfig, error)
	Currencies(ctx context.Context) ([]domain.CurrencyRate, error)

	Post(ctx context.Context, id string) (domain.Post, error)
	ListPosts(ctx context.Context, opts domain.ListPostsOpts) ([]domain.Post, error)
	CreatePost(ctx context.Context, p market.CreatePostParams) (domain.Post, error)
	SetForcedOutcome(ctx context.Context, caller, answerID string, side domain.Side) (domain.Post, error)
	Vote(ctx context.Context, p market.VoteParams) (market.VoteResult, error)
	QuoteVote(ctx context.Context, p market.VoteParams) (pricing.Breakdown, error)
	Settle(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error)
	Claim(ctx context.Context, p market.ClaimParams) (domain.ClaimRecord, error)
	Snapshot(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error)

	CreateParticipant(ctx context.Context, identity string) (domain.Participant, error)
	Participant(ctx context.Context, identity string) (domain.Participant, error)
	Position(ctx context.Context, participant, postID string) (domain.Position, error)
	Balance(ctx context.Context, owner domain.Owner, currency string) (uint64, error)
	RegisterSession(ctx context.Context, p market.RegisterSessionParams) (domain.SessionGrant, error)
	Withdraw(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error)
	Send(ctx context.Context, caller, from, to, currency string, amount uint64) error
	CollectCreatorEarnings(ctx context.Context, caller, creator, currency string) (uint64, error)

	UpdateConfig(ctx context.Context, caller string, patch market.ConfigPatch) (domain.MarketConfig, error)
	RegisterCurrency(ctx context.Context, caller string, p market.RegisterCurrencyParams) (domain.CurrencyRate, error)
	UpdateCurrency(ctx context.Context, caller, id string, enabled, withdrawable *bool) (domain.CurrencyRate, error)
	Deposit(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error)
	UpdateReputation(ctx context.Context, caller, identity string, u market.ReputationUpdate) (domain.Participant, error)
}

// VoteQueue accepts votes for a later batched submission.
type VoteQueue interface {
	Enqueue(p market.VoteParams, idempotencyKey string) (batcher.Ticket, error)
}

// MarketHandler serves market configuration, posts and voting.
type MarketHandler struct {
	market Market
	queue  VoteQueue
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. queue may be nil, in which case
// every vote is submitted directly.
func NewMarketHandler(m Market, queue VoteQueue, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: m, queue: queue, logger: logger}
}

// GetConfig returns the market configuration.
// GET /api/market/config
func (h *MarketHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.market.Config(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ListCurrencies returns every registered currency.
// GET /api/currencies
func (h *MarketHandler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	all, err := h.market.Currencies(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currencies": all})
}

// ListPosts returns posts filtered by state and creator.
// GET /api/posts?state=open&creator=0x...&limit=50&offset=0
func (h *MarketHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := domain.ListPostsOpts{ListOpts: opts, Creator: q.Get("creator")}
	switch state := domain.PostState(q.Get("state")); state {
	case "", domain.PostStateOpen, domain.PostStateSettled:
		filter.State = state
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("unknown state %q", state))
		return
	}

	posts, err := h.market.ListPosts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  posts,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetPost returns a single post.
// GET /api/posts/{id}
func (h *MarketHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.market.Post(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

type createPostRequest struct {
	Creator   string              `json:"creator,omitempty"`
	ContentID string              `json:"content_id"`
	Function  domain.PostFunction `json:"function,omitempty"`
	Relation  domain.RelationKind `json:"relation,omitempty"`
	ParentID  string              `json:"parent_id,omitempty"`
}

// CreatePost opens a new post. Creator defaults to the caller.
// POST /api/posts
func (h *MarketHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	post, err := h.market.CreatePost(r.Context(), market.CreatePostParams{
		Creator:   orCaller(r, req.Creator),
		ContentID: req.ContentID,
		Function:  req.Function,
		Relation:  req.Relation,
		ParentID:  req.ParentID,
		Caller:    caller(r),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// GetSnapshot returns the settlement snapshot of a post in one currency.
// GET /api/posts/{id}/snapshots/{currency}
func (h *MarketHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.market.Snapshot(r.Context(), pathParam(r, "id"), pathParam(r, "currency"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// QuoteVote prices a prospective vote in the base currency without placing
// it. voter is optional; an unknown voter is priced with the initial social
// score.
// GET /api/posts/{id}/quote?side=pump&units=3&voter=0x...
func (h *MarketHandler) QuoteVote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := parseSide(q.Get("side"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	units, err := strconv.ParseUint(q.Get("units"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "units must be a positive integer")
		return
	}
	quote, err := h.market.QuoteVote(r.Context(), market.VoteParams{
		PostID: pathParam(r, "id"),
		Side:   side,
		Units:  units,
		Voter:  orCaller(r, q.Get("voter")),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type voteRequest struct {
	Side     string `json:"side"`
	Units    uint64 `json:"units"`
	Currency string `json:"currency,omitempty"`
	Voter    string `json:"voter,omitempty"`
	// Batch queues the vote for the next flush instead of applying it now.
	Batch bool `json:"batch,omitempty"`
}

type voteResponse struct {
	market.VoteResult
	PaidDisplay string `json:"paid_display"`
}

// Vote stakes on a post. Batched votes are acknowledged with 202 and a
// ticket; an Idempotency-Key header deduplicates retries. A batch that
// cannot take the vote falls back to a direct submission.
// POST /api/posts/{id}/votes
func (h *MarketHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	currency, err := h.resolveCurrency(r.Context(), req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	params := market.VoteParams{
		PostID:   pathParam(r, "id"),
		Side:     side,
		Units:    req.Units,
		Currency: currency,
		Voter:    orCaller(r, req.Voter),
		Caller:   caller(r),
	}

	if req.Batch && h.queue != nil {
		ticket, err := h.queue.Enqueue(params, r.Header.Get("Idempotency-Key"))
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, ticket)
			return
		case !errors.Is(err, batcher.ErrBatchFull):
			writeDomainError(w, r, h.logger, err)
			return
		}
		h.logger.DebugContext(r.Context(), "handler: batch full, voting directly",
			slog.String("post_id", params.PostID),
		)
	}

	res, err := h.market.Vote(r.Context(), params)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := voteResponse{VoteResult: res}
	if paid, err := newMoney(r.Context(), h.market, res.Currency, res.Paid); err == nil {
		resp.PaidDisplay = paid.Display
	}
	writeJSON(w, http.StatusOK, resp)
}

type currencyRequest struct {
	Currency string `json:"currency,omitempty"`
}

// resolveCurrency defaults an empty currency to the base currency.
func (h *MarketHandler) resolveCurrency(ctx context.Context, currency string) (string, error) {
	if currency != "" {
		return currency, nil
	}
	cfg, err := h.market.Config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.BaseCurrency, nil
}

// Settle freezes the pot of an expired post in one currency. Anyone may
// settle.
// POST /api/posts/{id}/settle
func (h *MarketHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	currency, err := h.resolveCurrency(r.Context(), req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	snap, err := h.market.Settle(r.Context(), pathParam(r, "id"), currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type claimRequest struct {
	Currency    string `json:"currency,omitempty"`
	Participant string `json:"participant,omitempty"`
}

type claimResponse struct {
	domain.ClaimRecord
	AmountDisplay string `json:"amount_display"`
}

// Claim pays the caller's share of a settled pot.
// POST /api/posts/{id}/claims
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	currency, err := h.resolveCurrency(r.Context(), req.Currency)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	rec, err := h.market.Claim(r.Context(), market.ClaimParams{
		PostID:      pathParam(r, "id"),
		Currency:    currency,
		Participant: orCaller(r, req.Participant),
		Caller:      caller(r),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	resp := claimResponse{ClaimRecord: rec}
	if amt, err := newMoney(r.Context(), h.market, rec.Currency, rec.Amount); err == nil {
		resp.AmountDisplay = amt.Display
	}
	writeJSON(w, http.StatusOK, resp)
}

type forcedOutcomeRequest struct {
	Side string `json:"side"`
}

// SetForcedOutcome lets the question creator pick the winning side of an
// answer.
// POST /api/posts/{id}/forced-outcome
func (h *MarketHandler) SetForcedOutcome(w http.ResponseWriter, r *http.Request) {
	var req forcedOutcomeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	post, err := h.market.SetForcedOutcome(r.Context(), caller(r), pathParam(r, "id"), side)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
