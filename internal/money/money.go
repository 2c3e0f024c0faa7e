package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of minor-unit digits used when none is configured.
const DefaultScale int32 = 2

var (
	// ErrInvalidAmount indicates the amount could not be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNegativeAmount indicates a negative amount was supplied.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrPrecision indicates more fractional digits than the scale allows.
	ErrPrecision = errors.New("amount has too many decimal places")
)

// ParseMinor converts a major-unit decimal string such as "2500.50" into an
// integer count of minor units at the given scale.
func ParseMinor(s string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	shifted := d.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, s)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return shifted.IntPart(), nil
}

// FormatMinor renders minor units as a fixed-point major-unit string.
func FormatMinor(amount int64, scale int32) string {
	return decimal.New(amount, -scale).StringFixed(scale)
}
