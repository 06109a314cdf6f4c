// Package types provides common value types used across finledger.
package types

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("amount: arithmetic overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("amount: arithmetic underflow")
)

// Amount is an unsigned 256-bit integer in the smallest unit of its
// currency (wei-equivalent). Arithmetic is integer-only; operations that
// would leave the representable range return ErrOverflow or ErrUnderflow
// instead of wrapping.
//
// Amount is a value type. The zero value is zero.
//
//nolint:recvcheck // Value receivers for arithmetic, pointer receivers for UnmarshalText/Scan.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)

	return a
}

// Zero returns the zero Amount.
func Zero() Amount { return Amount{} }

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(strings.TrimSpace(s)); err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}

	return a, nil
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}

	return a
}

// AmountFromBig converts b, failing for negative or >256-bit values.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b.Sign() < 0 {
		return Amount{}, ErrUnderflow
	}

	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, ErrOverflow
	}

	return Amount{v: *v}, nil
}

// Pow10 returns 10^n.
func Pow10(n uint) Amount {
	var a Amount
	a.v.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))

	return a
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}

	return out, nil
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, ErrUnderflow
	}

	return out, nil
}

// Mul returns a * b.
func (a Amount) Mul(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}

	return out, nil
}

// MulDiv returns floor(a * num / den) with a 512-bit intermediate, so only
// the final result has to fit. It panics when den is zero.
func (a Amount) MulDiv(num, den uint64) (Amount, error) {
	if den == 0 {
		panic("amount: division by zero")
	}

	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, uint256.NewInt(num), uint256.NewInt(den)); overflow {
		return Amount{}, ErrOverflow
	}

	return out, nil
}

// Bps returns floor(a * bps / 10000).
func (a Amount) Bps(bps uint64) (Amount, error) {
	return a.MulDiv(bps, 10000)
}

// DivMod returns the quotient and remainder of a / d. It panics when d is
// zero.
func (a Amount) DivMod(d Amount) (Amount, Amount) {
	if d.v.IsZero() {
		panic("amount: division by zero")
	}

	var q, r Amount
	q.v.DivMod(&a.v, &d.v, &r.v)

	return q, r
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.v.Eq(&b.v) }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.v.Lt(&b.v) }

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.v.Gt(&b.v) }

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}

	return b
}

// Big returns a as a new big.Int.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Uint64 returns the low 64 bits and whether a fits in them.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// String returns the base-10 representation.
func (a Amount) String() string { return a.v.Dec() }

// FormatMajor renders a in major units with the given number of implied
// decimals, e.g. "1.5" for 1500000000000000000 at 18 decimals. Trailing
// zeros of the fraction are trimmed.
func (a Amount) FormatMajor(decimals uint) string {
	if decimals == 0 {
		return a.String()
	}

	major, minor := a.DivMod(Pow10(decimals))
	if minor.IsZero() {
		return major.String()
	}

	frac := minor.String()
	frac = strings.Repeat("0", int(decimals)-len(frac)) + frac

	return major.String() + "." + strings.TrimRight(frac, "0")
}

// MarshalText implements encoding.TextMarshaler. JSON encodes Amount as a
// decimal string so values above 2^53 survive JavaScript consumers.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}

// Value implements driver.Valuer. Amounts are stored as decimal strings
// (NUMERIC(78,0) on Postgres, TEXT elsewhere).
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}

		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return ErrUnderflow
		}
		*a = NewAmount(uint64(v))

		return nil
	default:
		return fmt.Errorf("amount: cannot scan %T into Amount", src)
	}
}

// Sum adds all values, failing on overflow.
func Sum(values ...Amount) (Amount, error) {
	var total Amount
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Amount{}, err
		}
	}

	return total, nil
}
