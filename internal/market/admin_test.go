package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

func TestInitializeMarket_Once(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.InitializeMarket(h.ctx, testConfig(), 6)
	assert.ErrorIs(t, err, domain.ErrMarketInitialized)

	cfg, err := h.eng.Config(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)

	curs, err := h.eng.Currencies(h.ctx)
	require.NoError(t, err)
	require.Len(t, curs, 1)
	assert.Equal(t, base, curs[0].ID)
	assert.Equal(t, uint64(1), curs[0].PriceInBase)
	assert.True(t, curs[0].Withdrawable)
}

func TestInitializeMarket_RejectsInvalidConfig(t *testing.T) {
	h := &harness{t: t, ctx: t.Context(), now: t0}
	h.eng = newUninitialized(h)

	cfg := testConfig()
	cfg.ProtocolFeeBps = 9_000
	cfg.CreatorFeeBps = 2_000
	_, err := h.eng.InitializeMarket(h.ctx, cfg, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = h.eng.InitializeMarket(h.ctx, testConfig(), 200)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)
	cost := uint64(7)
	_, err := h.eng.UpdateConfig(h.ctx, "alice", ConfigPatch{CostPerUnit: &cost})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	zero := uint64(0)
	_, err = h.eng.UpdateConfig(h.ctx, admin, ConfigPatch{CostPerUnit: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	tie := domain.TieBreakPump
	ext := 2 * time.Minute
	cfg, err := h.eng.UpdateConfig(h.ctx, admin, ConfigPatch{CostPerUnit: &cost, TieBreak: &tie, ExtensionPerUnit: &ext})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.CostPerUnit)
	assert.Equal(t, domain.TieBreakPump, cfg.TieBreak)
	assert.Equal(t, ext, cfg.ExtensionPerUnit)
	assert.Equal(t, testConfig().ProtocolFeeBps, cfg.ProtocolFeeBps)

	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 1_000)
	assert.Equal(t, uint64(7), h.vote(post.ID, "alice", domain.SidePump, 1).Cost)

	stored, err := h.eng.Config(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, stored)

	next := "new-admin"
	_, err = h.eng.UpdateConfig(h.ctx, admin, ConfigPatch{Admin: &next})
	require.NoError(t, err)
	_, err = h.eng.UpdateConfig(h.ctx, admin, ConfigPatch{CostPerUnit: &cost})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterCurrency(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.RegisterCurrency(h.ctx, "alice", RegisterCurrencyParams{ID: "tok", PriceInBase: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: base, PriceInBase: 1})
	assert.ErrorIs(t, err, domain.ErrBaseCurrencyAlternative)
	_, err = h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok"})
	assert.ErrorIs(t, err, domain.ErrInvalidRate)

	rate, err := h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok", PriceInBase: 3, Decimals: 18})
	require.NoError(t, err)
	assert.False(t, rate.Enabled)

	_, err = h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok", PriceInBase: 9})
	assert.ErrorIs(t, err, domain.ErrCurrencyAlreadyRegistered)

	rate, err = h.eng.SetCurrencyEnabled(h.ctx, admin, "tok", true)
	require.NoError(t, err)
	assert.True(t, rate.Enabled)
	assert.Equal(t, uint64(3), rate.PriceInBase)

	_, err = h.eng.SetCurrencyEnabled(h.ctx, admin, "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateReputation_ChangesPrice(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 100_000)
	h.deposit("bob", base, 100_000)

	low := int64(-10_000)
	_, err := h.eng.UpdateReputation(h.ctx, "alice", "alice", ReputationUpdate{SocialScore: &low})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	p, err := h.eng.UpdateReputation(h.ctx, admin, "alice", ReputationUpdate{SocialScore: &low})
	require.NoError(t, err)
	assert.Equal(t, low, p.SocialScore)
	assert.Equal(t, uint64(2_000), h.vote(post.ID, "alice", domain.SidePump, 10).Cost)

	traits := domain.TraitVector{Enabled: true}
	_, err = h.eng.UpdateReputation(h.ctx, admin, "bob", ReputationUpdate{Traits: &traits})
	require.NoError(t, err)

	_, err = h.eng.UpdateReputation(h.ctx, admin, "nobody", ReputationUpdate{SocialScore: &low})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateParticipant(t *testing.T) {
	h := newHarness(t, func(c *domain.MarketConfig) { c.InitialSocialScore = 250 })
	p, err := h.eng.CreateParticipant(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(250), p.SocialScore)

	_, err = h.eng.CreateParticipant(h.ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = h.eng.CreateParticipant(h.ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFunds(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok", PriceInBase: 1, Decimals: 6, Enabled: true})
	require.NoError(t, err)

	_, err = h.eng.Deposit(h.ctx, "alice", "alice", base, 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.Deposit(h.ctx, admin, "alice", base, 0)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = h.eng.Deposit(h.ctx, admin, "alice", "missing", 10)
	assert.ErrorIs(t, err, domain.ErrMintNotEnabled)

	bal, err := h.eng.Deposit(h.ctx, admin, "alice", "tok", 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal)

	_, err = h.eng.Withdraw(h.ctx, "alice", "alice", "tok", 100)
	assert.ErrorIs(t, err, domain.ErrTokenNotWithdrawable)
	_, err = h.eng.SetCurrencyWithdrawable(h.ctx, admin, "tok", true)
	require.NoError(t, err)
	bal, err = h.eng.Withdraw(h.ctx, "alice", "alice", "tok", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)
	_, err = h.eng.Withdraw(h.ctx, "alice", "alice", "tok", 401)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.ErrorIs(t, h.eng.Send(h.ctx, "alice", "alice", "alice", "tok", 1), domain.ErrCannotSendToSelf)
	assert.ErrorIs(t, h.eng.Send(h.ctx, "alice", "alice", "bob", "tok", 0), domain.ErrZeroAmount)
	assert.ErrorIs(t, h.eng.Send(h.ctx, "bob", "alice", "bob", "tok", 1), domain.ErrUnauthorized)
	require.NoError(t, h.eng.Send(h.ctx, "alice", "alice", "bob", "tok", 150))
	assert.Equal(t, uint64(250), h.balance(domain.ParticipantOwner("alice"), "tok"))
	assert.Equal(t, uint64(150), h.balance(domain.ParticipantOwner("bob"), "tok"))

	_, err = h.eng.Participant(h.ctx, "bob")
	assert.NoError(t, err, "recipients are registered on first receipt")
}

func TestCollectCreatorEarnings(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 10_000)
	h.vote(post.ID, "alice", domain.SidePump, 10)

	_, err := h.eng.CollectCreatorEarnings(h.ctx, "alice", "creator", base)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := h.eng.CollectCreatorEarnings(h.ctx, "creator", "creator", base)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), got)
	assert.Zero(t, h.balance(domain.CreatorOwner("creator"), base))
	assert.Equal(t, uint64(30), h.balance(domain.ParticipantOwner("creator"), base))

	_, err = h.eng.CollectCreatorEarnings(h.ctx, "creator", "creator", base)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestBalance_RejectsUnknownOwnerKind(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.Balance(h.ctx, domain.Owner{Kind: "bogus", ID: "x"}, base)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLedger_RecordsFundMovements(t *testing.T) {
	h := newHarness(t)
	h.deposit("alice", base, 1_000)
	require.NoError(t, h.eng.Send(h.ctx, "alice", "alice", "bob", base, 300))
	_, err := h.eng.Withdraw(h.ctx, "bob", "bob", base, 100)
	require.NoError(t, err)

	entries, err := h.eng.Ledger(h.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	kinds := []domain.LedgerKind{entries[0].Kind, entries[1].Kind, entries[2].Kind}
	assert.Equal(t, []domain.LedgerKind{domain.LedgerMint, domain.LedgerTransfer, domain.LedgerBurn}, kinds)
	assert.Nil(t, entries[0].From)
	assert.Equal(t, domain.ParticipantOwner("alice"), *entries[0].To)
	assert.Equal(t, uint64(300), entries[1].Amount)
	assert.Equal(t, domain.ParticipantOwner("bob"), *entries[2].From)
	assert.Nil(t, entries[2].To)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, base, e.Currency)
	}

	page, err := h.eng.Ledger(h.ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, entries[1].ID, page[0].ID)
}
