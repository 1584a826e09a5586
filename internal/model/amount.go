package model

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the fixed scale of every amount held by the ledger (PGT has 18 decimals).
const AmountDecimals = 18

const (
	maxAmountLength = 100
	// 10^78 already exceeds a uint256
	maxAmountExponent = 78
	amountBits        = 256
)

// ParseAmount turns a human decimal string ("1000", "12.5") into a ledger-scaled integer.
// More than AmountDecimals fractional digits, negatives, values that do not fit a uint256 and
// garbage are rejected.
func ParseAmount(field, raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, NewValidationError(field, raw, "amount is required")
	}
	if len(s) > maxAmountLength {
		return nil, NewValidationError(field, raw, "amount is too long")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, NewValidationError(field, raw, "amount must be a decimal number")
	}
	if d.IsNegative() {
		return nil, NewValidationError(field, raw, "amount must not be negative")
	}
	// checked before Shift/BigInt, which expand the exponent into digits
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountLength {
		return nil, NewValidationError(field, raw, "amount is out of range")
	}
	scaled := d.Shift(AmountDecimals)
	if !scaled.IsInteger() {
		return nil, NewValidationError(field, raw, "amount has more than 18 decimal places")
	}
	v := scaled.BigInt()
	if v.BitLen() > amountBits {
		return nil, NewValidationError(field, raw, "amount does not fit in 256 bits")
	}
	return v, nil
}

// FormatAmount removes the ledger scale for display. A nil amount formats as "0".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -AmountDecimals).String()
}

// WholeAmount scales a whole number of tokens, e.g. WholeAmount(1000) == 1000 * 10^18.
func WholeAmount(n int64) *big.Int {
	return decimal.NewFromInt(n).Shift(AmountDecimals).BigInt()
}
