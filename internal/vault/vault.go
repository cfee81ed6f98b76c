// Package vault is the only writer of custodial balances. Every balance
// change goes through Transfer, Mint or Burn on an open domain.Tx and leaves
// a ledger entry behind.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
)

// Vault moves value between balances inside a caller-owned transaction.
type Vault struct {
	now func() time.Time
}

// New creates a Vault. A nil clock defaults to time.Now.
func New(now func() time.Time) *Vault {
	if now == nil {
		now = time.Now
	}
	return &Vault{now: now}
}

// Transfer moves amount from one balance to another. A zero amount is a
// no-op. An insufficient source fails with domain.ErrInsufficientFunds and
// the caller must abandon the transaction.
func (v *Vault) Transfer(ctx context.Context, tx domain.Tx, from, to domain.Owner, currency string, amount uint64, reason string) error {
	if amount == 0 {
		return nil
	}
	if err := v.debit(ctx, tx, from, currency, amount); err != nil {
		return fmt.Errorf("vault: transfer %s -> %s: %w", from, to, err)
	}
	if err := v.credit(ctx, tx, to, currency, amount); err != nil {
		return fmt.Errorf("vault: transfer %s -> %s: %w", from, to, err)
	}
	return v.append(ctx, tx, domain.LedgerTransfer, &from, &to, currency, amount, reason)
}

// Mint credits fresh value from outside the engine.
func (v *Vault) Mint(ctx context.Context, tx domain.Tx, to domain.Owner, currency string, amount uint64, reason string) error {
	if amount == 0 {
		return nil
	}
	if err := v.credit(ctx, tx, to, currency, amount); err != nil {
		return fmt.Errorf("vault: mint %s: %w", to, err)
	}
	return v.append(ctx, tx, domain.LedgerMint, nil, &to, currency, amount, reason)
}

// Burn releases value to outside the engine.
func (v *Vault) Burn(ctx context.Context, tx domain.Tx, from domain.Owner, currency string, amount uint64, reason string) error {
	if amount == 0 {
		return nil
	}
	if err := v.debit(ctx, tx, from, currency, amount); err != nil {
		return fmt.Errorf("vault: burn %s: %w", from, err)
	}
	return v.append(ctx, tx, domain.LedgerBurn, &from, nil, currency, amount, reason)
}

// Balance reads one balance.
func (v *Vault) Balance(ctx context.Context, tx domain.Tx, owner domain.Owner, currency string) (uint64, error) {
	bal, err := tx.Balance(ctx, domain.BalanceKey{Owner: owner, Currency: currency})
	if err != nil {
		return 0, fmt.Errorf("vault: balance %s: %w", owner, err)
	}
	return bal, nil
}

func (v *Vault) debit(ctx context.Context, tx domain.Tx, owner domain.Owner, currency string, amount uint64) error {
	if !owner.Kind.Valid() {
		return fmt.Errorf("unknown owner kind %q", owner.Kind)
	}
	key := domain.BalanceKey{Owner: owner, Currency: currency}
	bal, err := tx.Balance(ctx, key)
	if err != nil {
		return err
	}
	if bal < amount {
		return domain.ErrInsufficientFunds
	}
	return tx.SetBalance(ctx, key, bal-amount)
}

func (v *Vault) credit(ctx context.Context, tx domain.Tx, owner domain.Owner, currency string, amount uint64) error {
	if !owner.Kind.Valid() {
		return fmt.Errorf("unknown owner kind %q", owner.Kind)
	}
	key := domain.BalanceKey{Owner: owner, Currency: currency}
	bal, err := tx.Balance(ctx, key)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Add(bal, amount)
	if err != nil {
		return err
	}
	return tx.SetBalance(ctx, key, next)
}

func (v *Vault) append(ctx context.Context, tx domain.Tx, kind domain.LedgerKind, from, to *domain.Owner, currency string, amount uint64, reason string) error {
	entry := domain.LedgerEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		To:        to,
		Currency:  currency,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: v.now().UTC(),
	}
	if err := tx.AppendLedger(ctx, entry); err != nil {
		return fmt.Errorf("vault: ledger: %w", err)
	}
	return nil
}
