// Package memory implements domain.Store in process memory. It backs tests
// and single-node deployments that run without PostgreSQL.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

type positionKey struct{ participant, post string }

type snapshotKey struct{ post, currency string }

type claimKey struct{ participant, post, currency string }

type sessionKey struct{ participant, key string }

type state struct {
	config       *domain.MarketConfig
	currencies   map[string]domain.CurrencyRate
	participants map[string]domain.Participant
	posts        map[string]domain.Post
	positions    map[positionKey]domain.Position
	snapshots    map[snapshotKey]domain.SettlementSnapshot
	claims       map[claimKey]domain.ClaimRecord
	sessions     map[sessionKey]domain.SessionGrant
	balances     map[domain.BalanceKey]uint64
	ledger       []domain.LedgerEntry
}

func newState() *state {
	return &state{
		currencies:   make(map[string]domain.CurrencyRate),
		participants: make(map[string]domain.Participant),
		posts:        make(map[string]domain.Post),
		positions:    make(map[positionKey]domain.Position),
		snapshots:    make(map[snapshotKey]domain.SettlementSnapshot),
		claims:       make(map[claimKey]domain.ClaimRecord),
		sessions:     make(map[sessionKey]domain.SessionGrant),
		balances:     make(map[domain.BalanceKey]uint64),
	}
}

// put sets m[k] and journals the previous value so the write can be undone.
func put[K comparable, V any](t *memTx, m map[K]V, k K, v V) {
	prev, existed := m[k]
	t.undo = append(t.undo, func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func del[K comparable, V any](t *memTx, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	t.undo = append(t.undo, func() { m[k] = prev })
	delete(m, k)
}

// Store is a domain.Store guarded by one mutex. Every transaction is fully
// serialized, which trivially satisfies per-post serialization.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ domain.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against the live state under the store mutex. Writes are
// journaled and undone in reverse order unless fn returns nil, so the cost
// of a transaction follows what it writes, not the size of the store.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.st}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

type memTx struct {
	st   *state
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

var _ domain.Tx = (*memTx)(nil)

func (t *memTx) MarketConfig(_ context.Context) (domain.MarketConfig, error) {
	if t.st.config == nil {
		return domain.MarketConfig{}, domain.ErrNotFound
	}
	return *t.st.config, nil
}

func (t *memTx) SaveMarketConfig(_ context.Context, cfg domain.MarketConfig) error {
	prev := t.st.config
	t.undo = append(t.undo, func() { t.st.config = prev })
	t.st.config = &cfg
	return nil
}

func (t *memTx) Currency(_ context.Context, id string) (domain.CurrencyRate, error) {
	c, ok := t.st.currencies[id]
	if !ok {
		return domain.CurrencyRate{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *memTx) CreateCurrency(_ context.Context, c domain.CurrencyRate) error {
	if _, ok := t.st.currencies[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	put(t, t.st.currencies, c.ID, c)
	return nil
}

func (t *memTx) UpdateCurrency(_ context.Context, c domain.CurrencyRate) error {
	if _, ok := t.st.currencies[c.ID]; !ok {
		return domain.ErrNotFound
	}
	put(t, t.st.currencies, c.ID, c)
	return nil
}

func (t *memTx) ListCurrencies(_ context.Context) ([]domain.CurrencyRate, error) {
	out := slices.Collect(maps.Values(t.st.currencies))
	slices.SortFunc(out, func(a, b domain.CurrencyRate) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) Participant(_ context.Context, identity string) (domain.Participant, error) {
	p, ok := t.st.participants[identity]
	if !ok {
		return domain.Participant{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) CreateParticipant(_ context.Context, p domain.Participant) error {
	if _, ok := t.st.participants[p.Identity]; ok {
		return domain.ErrAlreadyExists
	}
	put(t, t.st.participants, p.Identity, p)
	return nil
}

func (t *memTx) UpdateParticipant(_ context.Context, p domain.Participant) error {
	if _, ok := t.st.participants[p.Identity]; !ok {
		return domain.ErrNotFound
	}
	put(t, t.st.participants, p.Identity, p)
	return nil
}

func (t *memTx) Post(_ context.Context, id string) (domain.Post, error) {
	p, ok := t.st.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) CreatePost(_ context.Context, p domain.Post) error {
	if _, ok := t.st.posts[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	put(t, t.st.posts, p.ID, p)
	return nil
}

func (t *memTx) UpdatePost(_ context.Context, p domain.Post) error {
	if _, ok := t.st.posts[p.ID]; !ok {
		return domain.ErrNotFound
	}
	put(t, t.st.posts, p.ID, p)
	return nil
}

func (t *memTx) ListPosts(_ context.Context, opts domain.ListPostsOpts) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range t.st.posts {
		if opts.State != "" && p.State != opts.State {
			continue
		}
		if opts.Creator != "" && p.Creator != opts.Creator {
			continue
		}
		if opts.EndedBefore != nil && !p.EndTime.Before(*opts.EndedBefore) {
			continue
		}
		if !inWindow(p.StartTime, opts.ListOpts) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Post) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(out, opts.ListOpts), nil
}

func (t *memTx) Position(_ context.Context, participant, postID string) (domain.Position, error) {
	p, ok := t.st.positions[positionKey{participant, postID}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) SavePosition(_ context.Context, p domain.Position) error {
	put(t, t.st.positions, positionKey{p.Participant, p.PostID}, p)
	return nil
}

func (t *memTx) Snapshot(_ context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	s, ok := t.st.snapshots[snapshotKey{postID, currency}]
	if !ok {
		return domain.SettlementSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (t *memTx) CreateSnapshot(_ context.Context, s domain.SettlementSnapshot) error {
	k := snapshotKey{s.PostID, s.Currency}
	if _, ok := t.st.snapshots[k]; ok {
		return domain.ErrAlreadyExists
	}
	put(t, t.st.snapshots, k, s)
	return nil
}

func (t *memTx) ListSnapshots(_ context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error) {
	var out []domain.SettlementSnapshot
	for _, s := range t.st.snapshots {
		if inWindow(s.SettledAt, opts) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.SettlementSnapshot) int {
		if c := a.SettledAt.Compare(b.SettledAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.PostID, b.PostID); c != 0 {
			return c
		}
		return cmp.Compare(a.Currency, b.Currency)
	})
	return paginate(out, opts), nil
}

func (t *memTx) ClaimRecord(_ context.Context, participant, postID, currency string) (domain.ClaimRecord, error) {
	c, ok := t.st.claims[claimKey{participant, postID, currency}]
	if !ok {
		return domain.ClaimRecord{}, domain.ErrNotFound
	}
	return c, nil
}

func (t *memTx) CreateClaimRecord(_ context.Context, c domain.ClaimRecord) error {
	k := claimKey{c.Participant, c.PostID, c.Currency}
	if _, ok := t.st.claims[k]; ok {
		return domain.ErrAlreadyExists
	}
	put(t, t.st.claims, k, c)
	return nil
}

func (t *memTx) Session(_ context.Context, participant, key string) (domain.SessionGrant, error) {
	g, ok := t.st.sessions[sessionKey{participant, key}]
	if !ok {
		return domain.SessionGrant{}, domain.ErrNotFound
	}
	g.Privileges = slices.Clone(g.Privileges)
	return g, nil
}

func (t *memTx) SaveSession(_ context.Context, g domain.SessionGrant) error {
	g.Privileges = slices.Clone(g.Privileges)
	put(t, t.st.sessions, sessionKey{g.Participant, g.SessionKey}, g)
	return nil
}

func (t *memTx) Balance(_ context.Context, key domain.BalanceKey) (uint64, error) {
	return t.st.balances[key], nil
}

func (t *memTx) SetBalance(_ context.Context, key domain.BalanceKey, amount uint64) error {
	if amount == 0 {
		del(t, t.st.balances, key)
		return nil
	}
	put(t, t.st.balances, key, amount)
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, e domain.LedgerEntry) error {
	n := len(t.st.ledger)
	t.undo = append(t.undo, func() { t.st.ledger = t.st.ledger[:n] })
	t.st.ledger = append(t.st.ledger, e)
	return nil
}

func (t *memTx) ListLedger(_ context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range t.st.ledger {
		if inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return paginate(out, opts), nil
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !ts.Before(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
