package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Store runs engine operations as atomic units. fn sees a consistent view;
// when it returns an error nothing it wrote becomes visible. Operations that
// touch the same post are serialized by the implementation.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the record-level view available inside one atomic unit. Lookups
// return ErrNotFound for missing records; Create* methods return
// ErrAlreadyExists when the key is taken.
type Tx interface {
	MarketConfig(ctx context.Context) (MarketConfig, error)
	SaveMarketConfig(ctx context.Context, cfg MarketConfig) error

	Currency(ctx context.Context, id string) (CurrencyRate, error)
	CreateCurrency(ctx context.Context, c CurrencyRate) error
	UpdateCurrency(ctx context.Context, c CurrencyRate) error
	ListCurrencies(ctx context.Context) ([]CurrencyRate, error)

	Participant(ctx context.Context, identity string) (Participant, error)
	CreateParticipant(ctx context.Context, p Participant) error
	UpdateParticipant(ctx context.Context, p Participant) error

	Post(ctx context.Context, id string) (Post, error)
	CreatePost(ctx context.Context, p Post) error
	UpdatePost(ctx context.Context, p Post) error
	ListPosts(ctx context.Context, opts ListPostsOpts) ([]Post, error)

	Position(ctx context.Context, participant, postID string) (Position, error)
	SavePosition(ctx context.Context, p Position) error

	Snapshot(ctx context.Context, postID, currency string) (SettlementSnapshot, error)
	CreateSnapshot(ctx context.Context, s SettlementSnapshot) error
	ListSnapshots(ctx context.Context, opts ListOpts) ([]SettlementSnapshot, error)

	ClaimRecord(ctx context.Context, participant, postID, currency string) (ClaimRecord, error)
	CreateClaimRecord(ctx context.Context, c ClaimRecord) error

	Session(ctx context.Context, participant, sessionKey string) (SessionGrant, error)
	SaveSession(ctx context.Context, g SessionGrant) error

	// Balance returns zero for a balance that was never written. Only the
	// vault package mutates balances.
	Balance(ctx context.Context, key BalanceKey) (uint64, error)
	SetBalance(ctx context.Context, key BalanceKey, amount uint64) error
	AppendLedger(ctx context.Context, e LedgerEntry) error
	ListLedger(ctx context.Context, opts ListOpts) ([]LedgerEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
