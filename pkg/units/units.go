// Package units converts between smallest-unit token amounts and human values.
package units

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is used whenever a token's decimals cannot be resolved.
const DefaultDecimals = 18

// MaxDecimals bounds decimals accepted from upstream metadata.
const MaxDecimals = 77

var ErrInvalidNumber = errors.New("invalid numeric string")

// NormalizeDecimals maps out-of-range decimals onto DefaultDecimals.
func NormalizeDecimals(decimals int) int {
	if decimals < 0 || decimals > MaxDecimals {
		return DefaultDecimals
	}
	return decimals
}

// ToDecimal scales raw by 10^-decimals without leaving integer arithmetic.
func ToDecimal(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(NormalizeDecimals(decimals)))
}

// FormatUnits renders raw with exactly decimals fractional digits,
// e.g. FormatUnits(1500000, 6) == "1.500000".
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		raw = new(big.Int)
	}
	decimals = NormalizeDecimals(decimals)
	if decimals == 0 {
		return raw.String()
	}
	return ToDecimal(raw, decimals).StringFixed(int32(decimals))
}

// ToFloat is the display/arithmetic form of a raw balance.
func ToFloat(raw *big.Int, decimals int) float64 {
	return ToDecimal(raw, decimals).InexactFloat64()
}

// ParseBigInt accepts base-10 or 0x-prefixed hex integers.
func ParseBigInt(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
		if s == "" {
			return new(big.Int), true
		}
	}
	v, ok := new(big.Int).SetString(s, base)
	return v, ok
}

// ParseSignedPercent parses values such as "-3.25", "+1.2" or "0.5%".
// The magnitude is parsed unsigned and a leading "-" flips it.
func ParseSignedPercent(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidNumber
	}
	magnitude, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidNumber
	}
	v := magnitude.Abs().InexactFloat64()
	if negative {
		v = -v
	}
	return v, nil
}

// ParseFloat parses a decimal string such as a USD price. Empty strings are
// reported as not present.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
