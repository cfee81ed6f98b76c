package handler

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// formatAmount renders base units as a fixed-point decimal string in whole
// currency units: 1500000 with 6 decimals is "1.500000".
func formatAmount(v uint64, decimals uint8) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(v), -int32(decimals))
	return d.StringFixed(int32(decimals))
}

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// parseAmount converts a decimal string in whole units to base units. It
// rejects negative values, values finer than the currency's precision, and
// values that do not fit in 64 bits.
func parseAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a decimal", domain.ErrInvalidInput, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidInput)
	}
	units := d.Shift(int32(decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimals", domain.ErrInvalidInput, s, decimals)
	}
	if units.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("%w: amount %s", domain.ErrMathOverflow, s)
	}
	return units.BigInt().Uint64(), nil
}

// amountInput is a request amount: either base units in "amount" or whole
// units as a decimal string in "value". Exactly one must be set.
type amountInput struct {
	Amount *uint64 `json:"amount,omitempty"`
	Value  string  `json:"value,omitempty"`
}

func (a amountInput) resolve(decimals uint8) (uint64, error) {
	switch {
	case a.Amount != nil && a.Value != "":
		return 0, fmt.Errorf("%w: set amount or value, not both", domain.ErrInvalidInput)
	case a.Amount != nil:
		return *a.Amount, nil
	case a.Value != "":
		return parseAmount(a.Value, decimals)
	}
	return 0, fmt.Errorf("%w: amount is required", domain.ErrInvalidInput)
}

// money is an amount in a response.
type money struct {
	Currency string `json:"currency"`
	Amount   uint64 `json:"amount"`
	Display  string `json:"display"`
}

type currencyLister interface {
	Currencies(ctx context.Context) ([]domain.CurrencyRate, error)
}

// decimalsOf looks up the precision of a registered currency.
func decimalsOf(ctx context.Context, svc currencyLister, currency string) (uint8, error) {
	all, err := svc.Currencies(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range all {
		if c.ID == currency {
			return c.Decimals, nil
		}
	}
	return 0, fmt.Errorf("%w: currency %s", domain.ErrNotFound, currency)
}

func newMoney(ctx context.Context, svc currencyLister, currency string, amount uint64) (money, error) {
	dec, err := decimalsOf(ctx, svc, currency)
	if err != nil {
		return money{}, err
	}
	return money{Currency: currency, Amount: amount, Display: formatAmount(amount, dec)}, nil
}
