// Package fixed provides 9-decimal fixed-point arithmetic on 256-bit
// unsigned integers. Every helper rejects results that would truncate a
// strictly positive product to zero: a zero result is indistinguishable from
// "worthless" downstream, so the caller gets an explicit error instead.
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

// Decimals is the canonical precision for USD values, share counts, prices
// and fractions throughout the vault.
const Decimals uint8 = 9

// Scale is 10^Decimals.
var Scale = uint256.NewInt(1_000_000_000)

// One is the fixed-point representation of 1.0.
var One = uint256.NewInt(1_000_000_000)

var (
	ErrOverflow       = errors.New("fixed: result overflows 256 bits")
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrBelowScale     = errors.New("fixed: positive value truncates to zero")
)

// Mul returns a*b at 9dp. Both inputs are 9dp fixed-point.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, Scale)
}

// Div returns a/b at 9dp. Both inputs are 9dp fixed-point.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, Scale, b)
}

// MulDiv returns a*b/den, checking overflow on the intermediate product and
// rejecting truncation of a positive product to zero.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	res := prod.Div(prod, den)
	if res.IsZero() && !a.IsZero() && !b.IsZero() {
		return nil, ErrBelowScale
	}
	return res, nil
}

// Rescale converts v from one decimal precision to another. Scaling down a
// value that would round to zero is an error, never a silent zero.
func Rescale(v *uint256.Int, from, to uint8) (*uint256.Int, error) {
	if from == to {
		return new(uint256.Int).Set(v), nil
	}
	if to > from {
		factor, err := pow10(to - from)
		if err != nil {
			return nil, err
		}
		res, overflow := new(uint256.Int).MulOverflow(v, factor)
		if overflow {
			return nil, ErrOverflow
		}
		return res, nil
	}
	factor, err := pow10(from - to)
	if err != nil {
		return nil, err
	}
	res := new(uint256.Int).Div(v, factor)
	if res.IsZero() && !v.IsZero() {
		return nil, ErrBelowScale
	}
	return res, nil
}

// FromUnits converts a whole-unit count into 9dp fixed-point. The product
// of a uint64 and Scale always fits in 256 bits.
func FromUnits(units uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(units), Scale)
}

// pow10 returns 10^n. n above 77 cannot be represented in 256 bits.
func pow10(n uint8) (*uint256.Int, error) {
	if n > 77 {
		return nil, ErrOverflow
	}
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out, nil
}
