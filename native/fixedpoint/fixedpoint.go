// Package fixedpoint implements the integer arithmetic shared by the pool and
// loan engines. All values are unsigned 256-bit integers; products are formed
// in 512-bit intermediates so that a*b never wraps before division.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrOverflow       = errors.New("fixedpoint: overflow")
)

// Rounding selects how a quotient with a non-zero remainder is resolved.
type Rounding uint8

const (
	// Down truncates toward zero. Used for every conversion that credits a
	// caller.
	Down Rounding = iota
	// Up rounds away from zero. Used when charging a caller the minimal amount
	// that covers a requested quantity.
	Up
	// Nearest rounds half up.
	Nearest
)

func (r Rounding) String() string {
	switch r {
	case Down:
		return "down"
	case Up:
		return "up"
	case Nearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// New wraps a uint64 in a fresh 256-bit integer.
func New(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Clone copies v, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// MulDiv computes a*b/denominator with the requested rounding. The product is
// held in 512 bits; ErrOverflow is returned only when the final quotient does
// not fit in 256 bits.
func MulDiv(a, b, denominator *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	a, b = Clone(a), Clone(b)
	if denominator == nil || denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == Down {
		return z, nil
	}
	rem := new(uint256.Int).MulMod(a, b, denominator)
	if rem.IsZero() {
		return z, nil
	}
	roundUp := rounding == Up
	if rounding == Nearest {
		// rem >= denominator/2 without forming 2*rem.
		half := new(uint256.Int).Sub(denominator, rem)
		roundUp = rem.Cmp(half) >= 0
	}
	if !roundUp {
		return z, nil
	}
	return addOne(z)
}

// MustMulDiv is MulDiv for operands already known to be in range. It panics on
// error and is reserved for constant folding in tests and defaults.
func MustMulDiv(a, b, denominator *uint256.Int, rounding Rounding) *uint256.Int {
	z, err := MulDiv(a, b, denominator, rounding)
	if err != nil {
		panic(err)
	}
	return z
}

// CeilDiv returns ceil(a/b).
func CeilDiv(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrDivisionByZero
	}
	a = Clone(a)
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(a, b, r)
	if r.IsZero() {
		return q, nil
	}
	return addOne(q)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SubFloor returns a-b, clamping at zero.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	a, b = Clone(a), Clone(b)
	if a.Cmp(b) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	a, b = Clone(a), Clone(b)
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns a copy of the larger operand.
func Max(a, b *uint256.Int) *uint256.Int {
	a, b = Clone(a), Clone(b)
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Average returns floor((a+b)/2) without overflowing.
func Average(a, b *uint256.Int) *uint256.Int {
	a, b = Clone(a), Clone(b)
	and := new(uint256.Int).And(a, b)
	xor := new(uint256.Int).Xor(a, b)
	xor.Rsh(xor, 1)
	return and.Add(and, xor)
}

func addOne(z *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(z, uint256.NewInt(1))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
