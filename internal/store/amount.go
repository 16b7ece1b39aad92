// ABOUTME: Fixed-point helpers for token amounts with six decimal places
// ABOUTME: Converts between integer base units and human readable decimal strings

package store

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of decimal places of the payment currency.
const Decimals = 6

// ErrInvalidAmount is returned when an amount string cannot be represented.
var ErrInvalidAmount = errors.New("invalid amount")

// FormatAmount renders base units as a decimal string, e.g. 1500000 -> "1.500000".
func FormatAmount(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -Decimals).StringFixed(Decimals)
}

// ParseAmount converts a decimal string such as "1.5" into base units.
// It rejects negative values, more than Decimals fractional digits and
// values that overflow uint64.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, s)
	}

	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, s, Decimals)
	}

	units := scaled.BigInt()
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, s)
	}
	return units.Uint64(), nil
}

// formatUint and parseUint carry uint64 values through TEXT columns, which
// keeps the full range on engines whose integers are signed 64-bit.
func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUint(column, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", column, err)
	}
	return v, nil
}
