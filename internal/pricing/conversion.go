package pricing

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
)

// ToCurrency converts a base-currency cost into the smallest units of rate's
// currency. It rounds up so the payer never underpays and returns at least 1.
//
//	amount = ceil(cost * 10^rate.Decimals / (rate.PriceInBase * 10^baseDecimals))
func ToCurrency(cost uint64, rate domain.CurrencyRate, baseDecimals uint8) (uint64, error) {
	if rate.PriceInBase == 0 {
		return 0, domain.ErrInvalidRate
	}
	curScale, err := fixedpoint.Pow10(rate.Decimals)
	if err != nil {
		return 0, fmt.Errorf("pricing: currency decimals: %w", err)
	}
	baseScale, err := fixedpoint.Pow10(baseDecimals)
	if err != nil {
		return 0, fmt.Errorf("pricing: base decimals: %w", err)
	}

	num := new(uint256.Int).Mul(uint256.NewInt(cost), curScale)
	den := new(uint256.Int).Mul(uint256.NewInt(rate.PriceInBase), baseScale)
	amount, err := fixedpoint.CeilDiv256(num, den)
	if err != nil {
		return 0, fmt.Errorf("pricing: convert: %w", err)
	}
	return max(amount, 1), nil
}
