// Package amount converts between human-readable decimal token amounts
// and their minor-unit integer representation.
//
// All ledger arithmetic happens on *big.Int minor units. Floats are
// never involved, so comparisons stay exact at any precision,
// including the 18 fractional digits of the deployed token.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for inputs that are not a non-negative
// decimal with at most the token's number of fractional digits.
var ErrInvalidAmount = errors.New("invalid amount")

// ToMinor converts a decimal string in human units ("10.5") to minor
// units (10500000000000000000 at 18 decimals). The input must be a
// non-negative decimal with at most decimals fractional digits; excess
// digits are rejected rather than truncated, zeros included.
func ToMinor(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	if d.Exponent() < -decimals {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, decimals)
	}
	return d.Shift(decimals).BigInt(), nil
}

// FromMinor renders minor units as a canonical decimal string: no
// exponent notation, no trailing fractional zeros, no leading zeros.
// It is the exact inverse of ToMinor for canonical inputs.
func FromMinor(units *big.Int, decimals int32) (string, error) {
	if units == nil || units.Sign() < 0 {
		return "", fmt.Errorf("%w: minor units must be a non-negative integer", ErrInvalidAmount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(units, scale, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String(), nil
	}
	frac := fmt.Sprintf("%0*s", int(decimals), rem.String())
	frac = strings.TrimRight(frac, "0")
	return quo.String() + "." + frac, nil
}

// EqualMinor compares two minor-unit amounts. Exact integer equality,
// nil-safe (nil equals nothing).
func EqualMinor(a, b *big.Int) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Cmp(b) == 0
}
