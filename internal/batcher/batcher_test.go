package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/market/markettest"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

type recordingVoter struct {
	mu    sync.Mutex
	votes []market.VoteParams
	fail  map[string]error // post id -> error
}

func (v *recordingVoter) Vote(_ context.Context, p market.VoteParams) (market.VoteResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail[p.PostID]; err != nil {
		return market.VoteResult{}, err
	}
	v.votes = append(v.votes, p)
	return market.VoteResult{Units: p.Units}, nil
}

func (v *recordingVoter) calls() []market.VoteParams {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]market.VoteParams(nil), v.votes...)
}

func vote(post, voter string, side domain.Side, units uint64) market.VoteParams {
	return market.VoteParams{PostID: post, Side: side, Units: units, Currency: "base", Voter: voter, Caller: voter}
}

func TestFlush_MergesSameKey(t *testing.T) {
	v := &recordingVoter{}
	b := New(v, time.Hour, 0, nil, markettest.Discard())

	first, err := b.Enqueue(vote("p1", "bob", domain.SidePump, 2), "")
	require.NoError(t, err)
	assert.False(t, first.Merged)

	second, err := b.Enqueue(vote("p1", "bob", domain.SidePump, 3), "")
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, uint64(5), second.PendingUnits)

	_, err = b.Enqueue(vote("p1", "bob", domain.SideSmack, 1), "")
	require.NoError(t, err)
	_, err = b.Enqueue(vote("p2", "carol", domain.SidePump, 4), "")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Pending())

	assert.Equal(t, 3, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Pending())

	calls := v.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, vote("p1", "bob", domain.SidePump, 5), calls[0])
	assert.Equal(t, vote("p1", "bob", domain.SideSmack, 1), calls[1])
	assert.Equal(t, vote("p2", "carol", domain.SidePump, 4), calls[2])
}

func TestFlush_DropsFailedVotes(t *testing.T) {
	v := &recordingVoter{fail: map[string]error{"closed": domain.ErrPostExpired}}
	b := New(v, time.Hour, 0, nil, markettest.Discard())

	_, err := b.Enqueue(vote("closed", "bob", domain.SidePump, 1), "")
	require.NoError(t, err)
	_, err = b.Enqueue(vote("open", "bob", domain.SidePump, 1), "")
	require.NoError(t, err)

	assert.Equal(t, 1, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Pending(), "failed votes are not retried")
	assert.Equal(t, 0, b.Flush(context.Background()))
	assert.Len(t, v.calls(), 1)
}

func TestEnqueue_Rejects(t *testing.T) {
	b := New(&recordingVoter{}, time.Hour, 1, NewDedup(time.Minute), markettest.Discard())

	_, err := b.Enqueue(vote("p1", "bob", domain.SidePump, 0), "")
	assert.ErrorIs(t, err, domain.ErrZeroUnits)
	_, err = b.Enqueue(vote("p1", "bob", "sideways", 1), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = b.Enqueue(vote("p1", "bob", domain.SidePump, pricing.MaxUnits), "k1")
	require.NoError(t, err)
	_, err = b.Enqueue(vote("p1", "bob", domain.SidePump, 1), "k2")
	assert.ErrorIs(t, err, ErrBatchFull, "merge would exceed the per-vote maximum")
	_, err = b.Enqueue(vote("p2", "bob", domain.SidePump, 1), "k3")
	assert.ErrorIs(t, err, ErrBatchFull, "queue is at capacity")

	_, err = b.Enqueue(vote("p1", "bob", domain.SidePump, 1), "k1")
	assert.ErrorIs(t, err, ErrDuplicate)

	b.Flush(context.Background())
	_, err = b.Enqueue(vote("p2", "bob", domain.SidePump, 1), "k3")
	assert.NoError(t, err, "a refused key can be retried")
}

func TestRun_DrainsOnShutdown(t *testing.T) {
	v := &recordingVoter{}
	b := New(v, time.Hour, 0, nil, markettest.Discard())
	_, err := b.Enqueue(vote("p1", "bob", domain.SidePump, 1), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, v.calls(), 1)
}

func TestDedup(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	now = now.Add(time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
	assert.False(t, d.IsDuplicate("a"))
}
