// Package fixedpoint implements checked unsigned integer arithmetic for
// balances, costs and basis-point fees. Every operation either returns the
// exact (floored) result or domain.ErrMathOverflow; nothing wraps.
package fixedpoint

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// Add returns a+b.
func Add(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, domain.ErrMathOverflow
	}
	return s, nil
}

// Sub returns a-b and fails when b exceeds a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, domain.ErrMathOverflow
	}
	return a - b, nil
}

// Mul returns a*b.
func Mul(a, b uint64) (uint64, error) {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !z.IsUint64() {
		return 0, domain.ErrMathOverflow
	}
	return z.Uint64(), nil
}

// MulDiv returns floor(a*b/d) with a 256-bit intermediate product.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrMathOverflow
	}
	z := mulDiv256(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d))
	if !z.IsUint64() {
		return 0, domain.ErrMathOverflow
	}
	return z.Uint64(), nil
}

// MulDivCeil returns ceil(a*b/d).
func MulDivCeil(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrMathOverflow
	}
	num := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	return CeilDiv256(num, uint256.NewInt(d))
}

// Bps returns floor(amount*bps/10000).
func Bps(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, domain.BpsDenominator)
}

// CeilDiv256 returns ceil(n/d) narrowed to uint64.
func CeilDiv256(n, d *uint256.Int) (uint64, error) {
	if d.IsZero() {
		return 0, domain.ErrMathOverflow
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(n, d, r)
	if !r.IsZero() {
		if _, overflow := q.AddOverflow(q, uint256.NewInt(1)); overflow {
			return 0, domain.ErrMathOverflow
		}
	}
	if !q.IsUint64() {
		return 0, domain.ErrMathOverflow
	}
	return q.Uint64(), nil
}

// MaxDecimals bounds currency decimals so that 10^d times any uint64 fits in
// 256 bits.
const MaxDecimals = 50

// Pow10 returns 10^n as a 256-bit integer.
func Pow10(n uint8) (*uint256.Int, error) {
	if n > MaxDecimals {
		return nil, domain.ErrMathOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n))), nil
}

// a*b fits in 128 bits so the 256-bit product never overflows.
func mulDiv256(a, b, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Mul(a, b)
	return z.Div(z, d)
}
