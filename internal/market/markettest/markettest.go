// Package markettest builds initialized engines on the in-memory store for
// tests of the layers above the engine.
package markettest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/store/memory"
)

const (
	Admin = "admin"
	Base  = "base"
)

// Start is the initial clock reading of every fixture.
var Start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// Clock is a settable time source safe for concurrent reads.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Config is a valid market configuration with base duration of one day.
func Config() domain.MarketConfig {
	return domain.MarketConfig{
		Admin:                    Admin,
		BaseCurrency:             Base,
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

// AcceptAll treats every grant signature as valid.
type AcceptAll struct{}

func (AcceptAll) HashPrivileges(privileges []string) string { return "" }

func (AcceptAll) VerifyGrant(domain.SessionGrant, string) error { return nil }

// Fixture is an initialized engine with a controllable clock.
type Fixture struct {
	T      *testing.T
	Store  *memory.Store
	Engine *market.Engine
	Clock  *Clock
}

// New initializes a market with Config and base decimals 6.
func New(t *testing.T) *Fixture {
	t.Helper()
	f := &Fixture{T: t, Store: memory.New(), Clock: &Clock{t: Start}}
	f.Engine = market.New(f.Store, AcceptAll{},
		market.WithClock(f.Clock.Now),
		market.WithLogger(Discard()),
	)
	_, err := f.Engine.InitializeMarket(context.Background(), Config(), 6)
	require.NoError(t, err)
	return f
}

// Fund deposits amount of the base currency for identity.
func (f *Fixture) Fund(identity string, amount uint64) {
	f.T.Helper()
	_, err := f.Engine.Deposit(context.Background(), Admin, identity, Base, amount)
	require.NoError(f.T, err)
}

// Post creates a root post owned by creator.
func (f *Fixture) Post(creator, content string) domain.Post {
	f.T.Helper()
	p, err := f.Engine.CreatePost(context.Background(), market.CreatePostParams{
		Creator: creator, ContentID: content, Caller: creator,
	})
	require.NoError(f.T, err)
	return p
}

// Vote stakes units of the base currency as voter.
func (f *Fixture) Vote(postID, voter string, side domain.Side, units uint64) market.VoteResult {
	f.T.Helper()
	res, err := f.Engine.Vote(context.Background(), market.VoteParams{
		PostID: postID, Side: side, Units: units, Currency: Base, Voter: voter, Caller: voter,
	})
	require.NoError(f.T, err)
	return res
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
