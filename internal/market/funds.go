package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// Deposit credits identity with value that entered the system from outside,
// for example a bridge or a payment processor. It is admin-gated.
func (e *Engine) Deposit(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error) {
	canonicalIDs(&caller, &identity)
	if amount == 0 {
		return 0, fmt.Errorf("market: deposit: %w", domain.ErrZeroAmount)
	}
	now := e.clock()
	var bal uint64
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if _, err := registeredCurrency(ctx, tx, currency); err != nil {
			return err
		}
		if _, err := ensureParticipant(ctx, tx, cfg, identity, now); err != nil {
			return err
		}
		owner := domain.ParticipantOwner(identity)
		if err := e.vault.Mint(ctx, tx, owner, currency, amount, "deposit"); err != nil {
			return err
		}
		bal, err = e.vault.Balance(ctx, tx, owner, currency)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market: deposit: %w", err)
	}
	e.logger.InfoContext(ctx, "market: deposit",
		slog.String("participant", identity),
		slog.String("currency", currency),
		slog.Uint64("amount", amount),
	)
	return bal, nil
}

// Withdraw releases funds from the participant's vault. The currency must be
// flagged withdrawable.
func (e *Engine) Withdraw(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error) {
	canonicalIDs(&caller, &identity)
	if amount == 0 {
		return 0, fmt.Errorf("market: withdraw: %w", domain.ErrZeroAmount)
	}
	now := e.clock()
	var bal uint64
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := loadConfig(ctx, tx); err != nil {
			return err
		}
		if err := authorize(ctx, tx, caller, identity, domain.PrivilegeWithdraw, now); err != nil {
			return err
		}
		cur, err := registeredCurrency(ctx, tx, currency)
		if err != nil {
			return err
		}
		if !cur.Withdrawable {
			return domain.ErrTokenNotWithdrawable
		}
		owner := domain.ParticipantOwner(identity)
		if err := e.vault.Burn(ctx, tx, owner, currency, amount, "withdraw"); err != nil {
			return err
		}
		bal, err = e.vault.Balance(ctx, tx, owner, currency)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market: withdraw: %w", err)
	}
	e.logger.InfoContext(ctx, "market: withdrawal",
		slog.String("participant", identity),
		slog.String("currency", currency),
		slog.Uint64("amount", amount),
	)
	return bal, nil
}

// Send moves funds between two participants.
func (e *Engine) Send(ctx context.Context, caller, from, to, currency string, amount uint64) error {
	canonicalIDs(&caller, &from, &to)
	if amount == 0 {
		return fmt.Errorf("market: send: %w", domain.ErrZeroAmount)
	}
	if from == to {
		return fmt.Errorf("market: send: %w", domain.ErrCannotSendToSelf)
	}
	if to == "" {
		return fmt.Errorf("market: send: %w: empty recipient", domain.ErrInvalidInput)
	}
	now := e.clock()
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := authorize(ctx, tx, caller, from, domain.PrivilegeSend, now); err != nil {
			return err
		}
		if _, err := registeredCurrency(ctx, tx, currency); err != nil {
			return err
		}
		if _, err := ensureParticipant(ctx, tx, cfg, to, now); err != nil {
			return err
		}
		return e.vault.Transfer(ctx, tx, domain.ParticipantOwner(from), domain.ParticipantOwner(to), currency, amount, "send")
	})
	if err != nil {
		return fmt.Errorf("market: send: %w", err)
	}
	return nil
}

// CollectCreatorEarnings moves everything a creator has earned in currency
// into their spendable vault and returns the amount moved.
func (e *Engine) CollectCreatorEarnings(ctx context.Context, caller, creator, currency string) (uint64, error) {
	canonicalIDs(&caller, &creator)
	now := e.clock()
	var amount uint64
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := loadConfig(ctx, tx); err != nil {
			return err
		}
		if err := authorize(ctx, tx, caller, creator, domain.PrivilegeWithdraw, now); err != nil {
			return err
		}
		src := domain.CreatorOwner(creator)
		var err error
		if amount, err = e.vault.Balance(ctx, tx, src, currency); err != nil {
			return err
		}
		if amount == 0 {
			return domain.ErrZeroAmount
		}
		return e.vault.Transfer(ctx, tx, src, domain.ParticipantOwner(creator), currency, amount, "creator_earnings")
	})
	if err != nil {
		return 0, fmt.Errorf("market: collect creator earnings: %w", err)
	}
	return amount, nil
}
