package market

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/store/memory"
)

const (
	admin = "admin"
	base  = "base"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeVerifier accepts signatures of the form "sig:<participant>:<key>".
type fakeVerifier struct{}

func (fakeVerifier) HashPrivileges(privileges []string) string {
	h := "privs"
	for _, p := range privileges {
		h += ":" + p
	}
	return h
}

func (fakeVerifier) VerifyGrant(g domain.SessionGrant, signature string) error {
	if signature != "sig:"+g.Participant+":"+g.SessionKey {
		return domain.ErrInvalidSignature
	}
	return nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	eng   *Engine
	now   time.Time
}

func testConfig() domain.MarketConfig {
	return domain.MarketConfig{
		Admin:                    admin,
		BaseCurrency:             base,
		ProtocolFeeBps:           500,
		CreatorFeeBps:            300,
		ProtocolSettlementFeeBps: 100,
		CreatorWinFeeBps:         4_000,
		MotherFeeBps:             1_000,
		BaseDuration:             24 * time.Hour,
		MaxDuration:              72 * time.Hour,
		ExtensionPerUnit:         time.Minute,
		CostPerUnit:              100,
		TieBreak:                 domain.TieBreakTreasury,
		MaxSessionLifetime:       7 * 24 * time.Hour,
	}
}

func newHarness(t *testing.T, mutate ...func(*domain.MarketConfig)) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), store: memory.New(), now: t0}
	h.eng = New(h.store, fakeVerifier{},
		WithClock(func() time.Time { return h.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	_, err := h.eng.InitializeMarket(h.ctx, cfg, 6)
	require.NoError(t, err)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) deposit(identity, currency string, amount uint64) {
	h.t.Helper()
	_, err := h.eng.Deposit(h.ctx, admin, identity, currency, amount)
	require.NoError(h.t, err)
}

func (h *harness) balance(owner domain.Owner, currency string) uint64 {
	h.t.Helper()
	bal, err := h.eng.Balance(h.ctx, owner, currency)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) rootPost(creator, content string) domain.Post {
	h.t.Helper()
	p, err := h.eng.CreatePost(h.ctx, CreatePostParams{Creator: creator, ContentID: content, Caller: creator})
	require.NoError(h.t, err)
	return p
}

func (h *harness) vote(postID, voter string, side domain.Side, units uint64) VoteResult {
	h.t.Helper()
	res, err := h.eng.Vote(h.ctx, VoteParams{
		PostID:   postID,
		Side:     side,
		Units:    units,
		Currency: base,
		Voter:    voter,
		Caller:   voter,
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) post(id string) domain.Post {
	h.t.Helper()
	p, err := h.eng.Post(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func newUninitialized(h *harness) *Engine {
	h.store = memory.New()
	return New(h.store, fakeVerifier{},
		WithClock(func() time.Time { return h.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}
