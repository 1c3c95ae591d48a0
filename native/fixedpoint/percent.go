package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrInvalidNumber is returned when a decimal string cannot be represented at
// the requested precision.
var ErrInvalidNumber = errors.New("fixedpoint: invalid number")

// PercentDecimals is the number of decimal digits carried by a Percent.
const PercentDecimals = 1

// Percent is a percentage scaled by 10^PercentDecimals, so 300 reads as 30.0%.
type Percent uint64

const (
	// OneHundredPercent is 100.0%.
	OneHundredPercent Percent = 1000
	// ZeroPercent is 0.0%.
	ZeroPercent Percent = 0
)

// PercentOf builds a Percent from a whole-number percentage.
func PercentOf(whole uint64) Percent {
	return Percent(whole * 10)
}

// Int returns the scaled value as a 256-bit integer.
func (p Percent) Int() *uint256.Int { return uint256.NewInt(uint64(p)) }

// Valid reports whether p lies within 0..=100%.
func (p Percent) Valid() bool { return p <= OneHundredPercent }

func (p Percent) String() string {
	return decimal.New(int64(p), -PercentDecimals).StringFixed(PercentDecimals) + "%"
}

// Apply returns amount * p / 100% with the requested rounding.
func (p Percent) Apply(amount *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return MulDiv(amount, p.Int(), OneHundredPercent.Int(), rounding)
}

// Ratio returns part/whole as a Percent, rounded down. A zero whole yields 0%.
func Ratio(part, whole *uint256.Int) (Percent, error) {
	if whole == nil || whole.IsZero() {
		return ZeroPercent, nil
	}
	v, err := MulDiv(part, OneHundredPercent.Int(), whole, Down)
	if err != nil {
		return ZeroPercent, err
	}
	if !v.IsUint64() {
		return ZeroPercent, ErrOverflow
	}
	return Percent(v.Uint64()), nil
}

// FormatUnits renders amount as a decimal string with the given token decimals.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(Clone(amount).ToBig(), -int32(decimals)).String()
}

// ParsePercent reads a human percentage such as "12.5" into a Percent. At most
// PercentDecimals fractional digits are accepted.
func ParsePercent(s string) (Percent, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroPercent, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	scaled := d.Shift(PercentDecimals)
	if scaled.IsNegative() || !scaled.IsInteger() || !scaled.BigInt().IsUint64() {
		return ZeroPercent, fmt.Errorf("%w: percent %q", ErrInvalidNumber, s)
	}
	return Percent(scaled.BigInt().Uint64()), nil
}

// ParseUnits reads a decimal token amount such as "1.5" into smallest units.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	scaled := d.Shift(int32(decimals))
	if scaled.IsNegative() || !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: amount %q at %d decimals", ErrInvalidNumber, s, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
