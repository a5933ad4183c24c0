// Package amount provides a checked, non-negative integer quantity for bond
// accounting. Values carry 128-bit-range semantics: arithmetic never wraps,
// and any operation that would leave the valid range returns an error instead
// of a silently corrupted balance.
package amount

import (
	"fmt"
	"math/big"
)

// maxValue is the largest representable amount (2^127 - 1). Token quantities
// beyond this are rejected rather than wrapped.
var maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

const bpsDenominator = 10_000

// Amount is an immutable non-negative integer quantity. The zero value is 0.
type Amount struct {
	v *big.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// New builds an Amount from a non-negative int64. It panics on negative
// input; use Parse at trust boundaries.
func New(v int64) Amount {
	if v < 0 {
		panic(fmt.Sprintf("amount.New called with negative value %d", v))
	}
	return Amount{v: big.NewInt(v)}
}

// Parse constructs an Amount from external decimal input.
//
// Errors: non-numeric input, negative values, and values beyond the 128-bit
// range are all rejected.
func Parse(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("amount cannot be empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount cannot be negative")
	}
	if v.Cmp(maxValue) > 0 {
		return Amount{}, fmt.Errorf("amount exceeds representable range")
	}
	return Amount{v: v}, nil
}

func (a Amount) value() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Add returns a + b, failing if the result would exceed the representable range.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.value(), b.value())
	if sum.Cmp(maxValue) > 0 {
		return Amount{}, fmt.Errorf("amount addition overflow")
	}
	return Amount{v: sum}, nil
}

// Sub returns a - b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.value(), b.value())
	if diff.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount subtraction underflow")
	}
	return Amount{v: diff}, nil
}

// MulBps returns a * bps / 10000 with truncating integer division. Used for
// fee and penalty rates expressed in basis points.
func (a Amount) MulBps(bps uint32) (Amount, error) {
	if bps > bpsDenominator {
		return Amount{}, fmt.Errorf("bps %d exceeds %d", bps, bpsDenominator)
	}
	n := new(big.Int).Mul(a.value(), big.NewInt(int64(bps)))
	n.Quo(n, big.NewInt(bpsDenominator))
	return Amount{v: n}, nil
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.value().Cmp(b.value())
}

// Equal reports whether a and b are the same quantity.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// IsZero reports whether the amount is 0.
func (a Amount) IsZero() bool { return a.value().Sign() == 0 }

// IsPositive reports whether the amount is strictly greater than 0.
func (a Amount) IsPositive() bool { return a.value().Sign() > 0 }

// String renders the amount as a decimal string.
func (a Amount) String() string { return a.value().String() }

// MarshalJSON encodes the amount as a JSON string to avoid precision loss in
// consumers that parse numbers as float64.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both string and bare-number encodings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddSeconds returns start + d in seconds, failing on uint64 overflow. Bond
// expiry math goes through here so a hostile duration cannot wrap time.
func AddSeconds(start, d uint64) (uint64, error) {
	sum := start + d
	if sum < start {
		return 0, fmt.Errorf("timestamp addition overflow")
	}
	return sum, nil
}
