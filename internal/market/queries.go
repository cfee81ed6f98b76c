package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// Config returns the market configuration.
func (e *Engine) Config(ctx context.Context) (domain.MarketConfig, error) {
	var cfg domain.MarketConfig
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		cfg, err = loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

// Currencies lists every registered currency.
func (e *Engine) Currencies(ctx context.Context) ([]domain.CurrencyRate, error) {
	var out []domain.CurrencyRate
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListCurrencies(ctx)
		return err
	})
	return out, err
}

// Participant returns one participant.
func (e *Engine) Participant(ctx context.Context, identity string) (domain.Participant, error) {
	identity = canonicalID(identity)
	var p domain.Participant
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		p, err = tx.Participant(ctx, identity)
		return err
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("market: participant %s: %w", identity, err)
	}
	return p, nil
}

// Post returns one post.
func (e *Engine) Post(ctx context.Context, id string) (domain.Post, error) {
	var p domain.Post
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		p, err = loadPost(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Post{}, fmt.Errorf("market: %w", err)
	}
	return p, nil
}

// ListPosts lists posts matching opts.
func (e *Engine) ListPosts(ctx context.Context, opts domain.ListPostsOpts) ([]domain.Post, error) {
	var out []domain.Post
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListPosts(ctx, opts)
		return err
	})
	return out, err
}

// Position returns a participant's stake on a post. A participant who never
// voted holds an empty position.
func (e *Engine) Position(ctx context.Context, participant, postID string) (domain.Position, error) {
	participant = canonicalID(participant)
	var pos domain.Position
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		pos, err = tx.Position(ctx, participant, postID)
		if errors.Is(err, domain.ErrNotFound) {
			pos = domain.Position{Participant: participant, PostID: postID}
			return nil
		}
		return err
	})
	return pos, err
}

// Snapshot returns the settlement snapshot of (post, currency).
func (e *Engine) Snapshot(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	var s domain.SettlementSnapshot
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		s, err = tx.Snapshot(ctx, postID, currency)
		return err
	})
	if err != nil {
		return domain.SettlementSnapshot{}, fmt.Errorf("market: snapshot %s/%s: %w", postID, currency, err)
	}
	return s, nil
}

// Balance returns one custodial balance.
func (e *Engine) Balance(ctx context.Context, owner domain.Owner, currency string) (uint64, error) {
	owner.ID = canonicalID(owner.ID)
	if !owner.Kind.Valid() {
		return 0, fmt.Errorf("market: balance: %w: owner kind %q", domain.ErrInvalidInput, owner.Kind)
	}
	var bal uint64
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		bal, err = e.vault.Balance(ctx, tx, owner, currency)
		return err
	})
	return bal, err
}

// Snapshots lists settlement snapshots ordered by settlement time.
func (e *Engine) Snapshots(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error) {
	var out []domain.SettlementSnapshot
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListSnapshots(ctx, opts)
		return err
	})
	return out, err
}

// Ledger lists vault ledger entries.
func (e *Engine) Ledger(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListLedger(ctx, opts)
		return err
	})
	return out, err
}
