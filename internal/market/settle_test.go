package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

func TestSettleAndClaim_FullFlow(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	for _, who := range []string{"alice", "bob", "carol"} {
		h.deposit(who, base, 100_000)
	}

	assert.Equal(t, uint64(1_000), h.vote(post.ID, "alice", domain.SidePump, 10).Cost)
	assert.Equal(t, uint64(500), h.vote(post.ID, "carol", domain.SidePump, 5).Cost)
	assert.Equal(t, uint64(1_000), h.vote(post.ID, "bob", domain.SideSmack, 1).Cost)
	assert.Equal(t, uint64(2_330), h.balance(domain.EscrowOwner(post.ID), base))

	_, err := h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "alice", Caller: "alice"})
	assert.ErrorIs(t, err, domain.ErrPostNotSettled)

	h.now = h.post(post.ID).EndTime
	_, err = h.eng.Settle(h.ctx, post.ID, base)
	assert.ErrorIs(t, err, domain.ErrPostNotExpired)

	h.advance(time.Second)
	snap, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePump, snap.Outcome)
	assert.Equal(t, uint64(2_330), snap.InitialPot)
	assert.Zero(t, snap.MotherFee)
	assert.Equal(t, uint64(23), snap.ProtocolFee)
	assert.Equal(t, uint64(922), snap.CreatorFee)
	assert.Equal(t, uint64(1_385), snap.TotalPayout)
	assert.Equal(t, uint64(15), snap.WinningUnits)
	assert.Equal(t, uint64(92_333_333), snap.PayoutPerUnit)
	assert.True(t, snap.Frozen)
	assert.False(t, snap.Swept)

	settled := h.post(post.ID)
	assert.Equal(t, domain.PostStateSettled, settled.State)
	assert.Equal(t, domain.OutcomePump, settled.Outcome)

	_, err = h.eng.Settle(h.ctx, post.ID, base)
	assert.ErrorIs(t, err, domain.ErrPostAlreadySettled)

	rec, err := h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "alice", Caller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(923), rec.Amount)
	assert.True(t, rec.Claimed)

	rec, err = h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "carol", Caller: "carol"})
	require.NoError(t, err)
	assert.Equal(t, uint64(461), rec.Amount)

	// The losing side claims nothing but is still recorded.
	rec, err = h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "bob", Caller: "bob"})
	require.NoError(t, err)
	assert.Zero(t, rec.Amount)
	assert.True(t, rec.Claimed)

	for _, who := range []string{"alice", "bob", "carol"} {
		_, err = h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: who, Caller: who})
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed, who)
	}

	assert.Zero(t, h.balance(domain.EscrowOwner(post.ID), base))
	assert.Equal(t, uint64(148), h.balance(domain.TreasuryOwner(), base))
	assert.Equal(t, uint64(967), h.balance(domain.CreatorOwner("creator"), base))
	assert.Equal(t, uint64(100_000-1_000+923), h.balance(domain.ParticipantOwner("alice"), base))
}

func TestSettle_TieGoesToTreasury(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 10_000)
	h.deposit("bob", base, 10_000)
	h.vote(post.ID, "alice", domain.SidePump, 10)
	h.vote(post.ID, "bob", domain.SideSmack, 1)

	h.advance(48 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTie, snap.Outcome)
	assert.True(t, snap.Swept)
	assert.Zero(t, snap.CreatorFee)
	assert.Equal(t, uint64(1_852), snap.TotalPayout)
	assert.Zero(t, snap.PayoutPerUnit)

	assert.Zero(t, h.balance(domain.EscrowOwner(post.ID), base))
	assert.Equal(t, uint64(100+18+1_852), h.balance(domain.TreasuryOwner(), base))

	_, err = h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "alice", Caller: "alice"})
	assert.ErrorIs(t, err, domain.ErrNoWinner)
}

func TestSettle_TieBreakPump(t *testing.T) {
	h := newHarness(t, func(c *domain.MarketConfig) { c.TieBreak = domain.TieBreakPump })
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 10_000)
	h.deposit("bob", base, 10_000)
	h.vote(post.ID, "alice", domain.SidePump, 10)
	h.vote(post.ID, "bob", domain.SideSmack, 1)

	h.advance(48 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePump, snap.Outcome)
	assert.False(t, snap.Swept)
	assert.Equal(t, uint64(10), snap.WinningUnits)

	rec, err := h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: "alice", Caller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, snap.TotalPayout, rec.Amount)
}

func TestSettle_NoWinningUnitsSweeps(t *testing.T) {
	h := newHarness(t)
	q, err := h.eng.CreatePost(h.ctx, CreatePostParams{Creator: "asker", ContentID: "q", Function: domain.FunctionQuestion, Caller: "asker"})
	require.NoError(t, err)
	ans, err := h.eng.CreatePost(h.ctx, CreatePostParams{
		Creator: "answerer", ContentID: "a", Function: domain.FunctionAnswer,
		Relation: domain.RelationAnswerTo, ParentID: q.ID, Caller: "answerer",
	})
	require.NoError(t, err)
	h.deposit("alice", base, 10_000)
	h.vote(ans.ID, "alice", domain.SidePump, 4)
	pot := h.balance(domain.EscrowOwner(ans.ID), base)

	// Smack is forced but nobody holds smack units.
	_, err = h.eng.SetForcedOutcome(h.ctx, admin, ans.ID, domain.SideSmack)
	require.NoError(t, err)

	h.advance(48 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, ans.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSmack, snap.Outcome)
	assert.Zero(t, snap.WinningUnits)
	assert.True(t, snap.Swept)
	assert.Zero(t, h.balance(domain.EscrowOwner(ans.ID), base))

	assert.Equal(t, uint64(368), pot)
	assert.Equal(t, uint64(20)+pot, h.balance(domain.TreasuryOwner(), base))

	rec, err := h.eng.Claim(h.ctx, ClaimParams{PostID: ans.ID, Currency: base, Participant: "alice", Caller: "alice"})
	require.NoError(t, err)
	assert.Zero(t, rec.Amount)
}

func TestSettle_EmptyPostIsSwept(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	h.advance(25 * time.Hour)

	snap, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTie, snap.Outcome)
	assert.True(t, snap.Swept)
	assert.Zero(t, snap.InitialPot)
	assert.Zero(t, snap.TotalPayout)
}

func TestSettle_OutcomeIsSharedAcrossCurrencies(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok", PriceInBase: 1, Decimals: 6, Enabled: true})
	require.NoError(t, err)
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 10_000)
	h.vote(post.ID, "alice", domain.SidePump, 3)

	h.advance(48 * time.Hour)
	first, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)

	second, err := h.eng.Settle(h.ctx, post.ID, "tok")
	require.NoError(t, err)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Zero(t, second.InitialPot)

	_, err = h.eng.Settle(h.ctx, post.ID, "tok")
	assert.ErrorIs(t, err, domain.ErrPostAlreadySettled)

	_, err = h.eng.Settle(h.ctx, post.ID, "unregistered")
	assert.ErrorIs(t, err, domain.ErrMintNotEnabled)
}

func TestClaim_RequiresSnapshotForCurrency(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.RegisterCurrency(h.ctx, admin, RegisterCurrencyParams{ID: "tok", PriceInBase: 1, Decimals: 6, Enabled: true})
	require.NoError(t, err)
	post := h.rootPost("creator", "c1")
	h.deposit("alice", base, 10_000)
	h.vote(post.ID, "alice", domain.SidePump, 3)

	h.advance(48 * time.Hour)
	_, err = h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)

	_, err = h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: "tok", Participant: "alice", Caller: "alice"})
	assert.ErrorIs(t, err, domain.ErrPostNotSettled)
}

func TestClaim_PayoutNeverExceedsPot(t *testing.T) {
	h := newHarness(t)
	post := h.rootPost("creator", "c1")
	voters := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7"}
	for i, v := range voters {
		h.deposit(v, base, 10_000_000)
		h.vote(post.ID, v, domain.SidePump, uint64(i+1))
	}
	h.deposit("smacker", base, 10_000_000)
	h.vote(post.ID, "smacker", domain.SideSmack, 1)

	h.advance(96 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, post.ID, base)
	require.NoError(t, err)

	var paid uint64
	for _, v := range append(voters, "smacker") {
		rec, err := h.eng.Claim(h.ctx, ClaimParams{PostID: post.ID, Currency: base, Participant: v, Caller: v})
		require.NoError(t, err)
		paid += rec.Amount
	}
	assert.LessOrEqual(t, paid, snap.TotalPayout)
	assert.Equal(t, snap.TotalPayout-paid, h.balance(domain.EscrowOwner(post.ID), base))
}

func TestSettle_MotherFeeToOpenParent(t *testing.T) {
	h := newHarness(t)
	root := h.rootPost("creator", "root")
	h.advance(12 * time.Hour)
	reply, err := h.eng.CreatePost(h.ctx, CreatePostParams{
		Creator: "replier", ContentID: "r1", Relation: domain.RelationReply, ParentID: root.ID, Caller: "replier",
	})
	require.NoError(t, err)
	h.deposit("alice", base, 100_000)
	assert.Equal(t, uint64(1_012), h.vote(reply.ID, "alice", domain.SidePump, 10).Split.Pot)

	h.advance(48 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, reply.ID, base)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), snap.MotherFee)
	assert.Equal(t, uint64(9), snap.ProtocolFee)
	assert.Equal(t, uint64(360), snap.CreatorFee)
	assert.Equal(t, uint64(542), snap.TotalPayout)
	assert.Equal(t, uint64(101), h.balance(domain.EscrowOwner(root.ID), base))
}

func TestSettle_NoMotherFeeOnceParentSettled(t *testing.T) {
	h := newHarness(t)
	root := h.rootPost("creator", "root")
	reply, err := h.eng.CreatePost(h.ctx, CreatePostParams{
		Creator: "replier", ContentID: "r1", Relation: domain.RelationQuote, ParentID: root.ID, Caller: "replier",
	})
	require.NoError(t, err)
	h.deposit("alice", base, 100_000)
	h.vote(reply.ID, "alice", domain.SidePump, 10)

	h.advance(48 * time.Hour)
	_, err = h.eng.Settle(h.ctx, root.ID, base)
	require.NoError(t, err)
	snap, err := h.eng.Settle(h.ctx, reply.ID, base)
	require.NoError(t, err)
	assert.Zero(t, snap.MotherFee)
}

func TestSettle_ForcedOutcomeOverridesTotals(t *testing.T) {
	h := newHarness(t)
	q, err := h.eng.CreatePost(h.ctx, CreatePostParams{Creator: "asker", ContentID: "q", Function: domain.FunctionQuestion, Caller: "asker"})
	require.NoError(t, err)
	ans, err := h.eng.CreatePost(h.ctx, CreatePostParams{
		Creator: "answerer", ContentID: "a", Function: domain.FunctionAnswer,
		Relation: domain.RelationAnswerTo, ParentID: q.ID, Caller: "answerer",
	})
	require.NoError(t, err)
	h.deposit("alice", base, 100_000)
	h.deposit("bob", base, 100_000)
	h.vote(ans.ID, "alice", domain.SidePump, 1)
	h.vote(ans.ID, "bob", domain.SideSmack, 5)

	_, err = h.eng.SetForcedOutcome(h.ctx, "bob", ans.ID, domain.SidePump)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.eng.SetForcedOutcome(h.ctx, "asker", q.ID, domain.SidePump)
	assert.ErrorIs(t, err, domain.ErrInvalidRelation)

	forced, err := h.eng.SetForcedOutcome(h.ctx, "asker", ans.ID, domain.SidePump)
	require.NoError(t, err)
	assert.Equal(t, domain.SidePump, forced.ForcedOutcome)

	h.advance(48 * time.Hour)
	snap, err := h.eng.Settle(h.ctx, ans.ID, base)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePump, snap.Outcome)
	assert.Zero(t, snap.MotherFee)
	assert.Equal(t, uint64(1), snap.WinningUnits)

	_, err = h.eng.SetForcedOutcome(h.ctx, admin, ans.ID, domain.SideSmack)
	assert.ErrorIs(t, err, domain.ErrPostNotOpen)
}
