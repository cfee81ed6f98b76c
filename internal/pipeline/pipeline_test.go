package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/cache/memory"
	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/market/markettest"
)

type recordedNotice struct {
	event, title, message string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{event, title, message})
	return nil
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notices {
		out = append(out, x.event)
	}
	return out
}

func newKeeperFixture(t *testing.T) (*markettest.Fixture, *Keeper, *memory.LockManager, *fakeNotifier) {
	f := markettest.New(t)
	_, err := f.Engine.RegisterCurrency(context.Background(), markettest.Admin, market.RegisterCurrencyParams{
		ID: "usdc", PriceInBase: 1, Decimals: 6, Enabled: true,
	})
	require.NoError(t, err)

	locks := memory.NewLockManager()
	notes := &fakeNotifier{}
	k := NewKeeper(f.Engine, locks, notes, 10, time.Minute, markettest.Discard())
	k.now = f.Clock.Now
	return f, k, locks, notes
}

func TestKeeper_SettlesExpiredPostsInEveryCurrency(t *testing.T) {
	f, k, _, notes := newKeeperFixture(t)
	ctx := context.Background()

	expired := f.Post("alice", "old")
	f.Fund("bob", 1_000_000_000)
	f.Vote(expired.ID, "bob", domain.SidePump, 4)

	f.Clock.Advance(80 * time.Hour)
	fresh := f.Post("alice", "new")

	res, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Posts: 1, Settled: 2}, res)

	for _, cur := range []string{markettest.Base, "usdc"} {
		_, err := f.Engine.Snapshot(ctx, expired.ID, cur)
		assert.NoError(t, err, cur)
	}
	_, err = f.Engine.Snapshot(ctx, fresh.ID, markettest.Base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{EventSettled}, notes.events(), "only the funded currency is announced")

	res, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Posts, "settled posts are no longer listed")
}

func TestKeeper_SkipsLockedPosts(t *testing.T) {
	f, k, locks, _ := newKeeperFixture(t)
	ctx := context.Background()

	post := f.Post("alice", "c1")
	f.Clock.Advance(25 * time.Hour)

	unlock, err := locks.Acquire(ctx, "keeper:settle:"+post.ID, time.Minute)
	require.NoError(t, err)

	res, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Posts: 1, Skipped: 1}, res)

	unlock()
	res, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Settled)
}

func TestKeeper_SweptPotNotifies(t *testing.T) {
	f, k, _, notes := newKeeperFixture(t)

	post := f.Post("alice", "tie")
	f.Fund("bob", 1_000_000_000)
	f.Fund("carol", 1_000_000_000)
	// Smack units cost ten times Pump units, so these stakes tie.
	f.Vote(post.ID, "bob", domain.SidePump, 10)
	f.Vote(post.ID, "carol", domain.SideSmack, 1)
	f.Clock.Advance(80 * time.Hour)

	require.NoError(t, k.Run(context.Background()))
	assert.Contains(t, notes.events(), EventSwept)
}

// flakySettler fails the first settlement attempt in one currency.
type flakySettler struct {
	Settler
	currency string
	failed   bool
}

func (s *flakySettler) Settle(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	if currency == s.currency && !s.failed {
		s.failed = true
		return domain.SettlementSnapshot{}, errors.New("rpc timeout")
	}
	return s.Settler.Settle(ctx, postID, currency)
}

func TestKeeper_RetriesCurrencyThatFailed(t *testing.T) {
	f, _, locks, notes := newKeeperFixture(t)
	ctx := context.Background()
	k := NewKeeper(&flakySettler{Settler: f.Engine, currency: "usdc"}, locks, notes, 10, time.Minute, markettest.Discard())
	k.now = f.Clock.Now

	post := f.Post("alice", "c1")
	f.Clock.Advance(25 * time.Hour)

	res, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Posts: 1, Settled: 1, Failed: 1}, res)
	got, err := f.Engine.Post(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostStateSettled, got.State)
	_, err = f.Engine.Snapshot(ctx, post.ID, "usdc")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, notes.events(), EventKeeperError)

	res, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Posts: 1, Retried: 1, Settled: 1}, res)
	_, err = f.Engine.Snapshot(ctx, post.ID, "usdc")
	require.NoError(t, err)

	res, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Posts, "nothing left to retry")
}

type fakeSettler struct {
	Settler
	err error
}

func (s fakeSettler) Currencies(context.Context) ([]domain.CurrencyRate, error) { return nil, s.err }

func TestKeeper_ListErrors(t *testing.T) {
	k := NewKeeper(fakeSettler{err: errors.New("boom")}, memory.NewLockManager(), nil, 0, time.Minute, markettest.Discard())
	assert.ErrorContains(t, k.Run(context.Background()), "boom")
}

type fakeArchiver struct {
	cutoffs []time.Time
	n       int64
	err     error
}

func (a *fakeArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return a.n, a.err
}

func (a *fakeArchiver) ArchiveLedger(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return a.n, nil
}

func TestArchiveJob_Cutoff(t *testing.T) {
	arch := &fakeArchiver{n: 3}
	notes := &fakeNotifier{}
	job := NewArchiveJob(arch, 30, notes, markettest.Discard())
	job.now = func() time.Time { return time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	want := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{want, want}, arch.cutoffs)
	assert.Equal(t, []string{EventArchived}, notes.events())

	arch.err = errors.New("s3 down")
	assert.ErrorContains(t, job.Run(context.Background()), "s3 down")
}

type jobFunc func(ctx context.Context) error

func (f jobFunc) Run(ctx context.Context) error { return f(ctx) }

func TestScheduler(t *testing.T) {
	s := NewScheduler(markettest.Discard())
	assert.Error(t, s.Add("bad", "not a schedule", jobFunc(func(context.Context) error { return nil })))

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", jobFunc(func(context.Context) error {
		runs.Add(1)
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
