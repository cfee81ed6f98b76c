package vault

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*memory.Store, *Vault) {
	t.Helper()
	return memory.New(), New(func() time.Time { return fixedNow })
}

func balance(t *testing.T, s *memory.Store, owner domain.Owner, currency string) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, s.InTx(context.Background(), func(tx domain.Tx) error {
		var err error
		bal, err = tx.Balance(context.Background(), domain.BalanceKey{Owner: owner, Currency: currency})
		return err
	}))
	return bal
}

func TestMintTransferBurn(t *testing.T) {
	ctx := context.Background()
	s, v := setup(t)
	alice := domain.ParticipantOwner("alice")
	pot := domain.EscrowOwner("post-1")

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		if err := v.Mint(ctx, tx, alice, "base", 100, "deposit"); err != nil {
			return err
		}
		if err := v.Transfer(ctx, tx, alice, pot, "base", 30, "vote"); err != nil {
			return err
		}
		return v.Burn(ctx, tx, alice, "base", 20, "withdraw")
	}))

	assert.Equal(t, uint64(50), balance(t, s, alice, "base"))
	assert.Equal(t, uint64(30), balance(t, s, pot, "base"))

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		entries, err := tx.ListLedger(ctx, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, entries, 3)

		assert.Equal(t, domain.LedgerMint, entries[0].Kind)
		assert.Nil(t, entries[0].From)
		assert.Equal(t, alice, *entries[0].To)

		assert.Equal(t, domain.LedgerTransfer, entries[1].Kind)
		assert.Equal(t, alice, *entries[1].From)
		assert.Equal(t, pot, *entries[1].To)
		assert.Equal(t, "vote", entries[1].Reason)

		assert.Equal(t, domain.LedgerBurn, entries[2].Kind)
		assert.Nil(t, entries[2].To)
		assert.Equal(t, fixedNow, entries[2].CreatedAt)
		assert.NotEmpty(t, entries[2].ID)
		return nil
	}))
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	ctx := context.Background()
	s, v := setup(t)
	alice := domain.ParticipantOwner("alice")
	treasury := domain.TreasuryOwner()

	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		return v.Mint(ctx, tx, alice, "base", 10, "deposit")
	}))

	err := s.InTx(ctx, func(tx domain.Tx) error {
		if err := v.Transfer(ctx, tx, alice, treasury, "base", 6, "fee"); err != nil {
			return err
		}
		return v.Transfer(ctx, tx, alice, treasury, "base", 6, "fee")
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, uint64(10), balance(t, s, alice, "base"))
	assert.Zero(t, balance(t, s, treasury, "base"))
}

func TestZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	s, v := setup(t)
	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		require.NoError(t, v.Transfer(ctx, tx, domain.ParticipantOwner("a"), domain.TreasuryOwner(), "base", 0, "fee"))
		require.NoError(t, v.Mint(ctx, tx, domain.TreasuryOwner(), "base", 0, "fee"))
		entries, err := tx.ListLedger(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestMintOverflow(t *testing.T) {
	ctx := context.Background()
	s, v := setup(t)
	treasury := domain.TreasuryOwner()
	err := s.InTx(ctx, func(tx domain.Tx) error {
		if err := v.Mint(ctx, tx, treasury, "base", math.MaxUint64, "seed"); err != nil {
			return err
		}
		return v.Mint(ctx, tx, treasury, "base", 1, "seed")
	})
	assert.ErrorIs(t, err, domain.ErrMathOverflow)
	assert.Zero(t, balance(t, s, treasury, "base"))
}

func TestCurrenciesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, v := setup(t)
	alice := domain.ParticipantOwner("alice")
	require.NoError(t, s.InTx(ctx, func(tx domain.Tx) error {
		return v.Mint(ctx, tx, alice, "base", 10, "deposit")
	}))
	err := s.InTx(ctx, func(tx domain.Tx) error {
		return v.Transfer(ctx, tx, alice, domain.TreasuryOwner(), "tok", 1, "vote")
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
