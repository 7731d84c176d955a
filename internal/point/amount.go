package point

import (
	"fmt"
	"strconv"
)

// MaxAmount is the largest quantity any ledger, entry or balance may hold.
const MaxAmount int64 = 100_000_000_000

// Amount is a non-negative point quantity bounded by MaxAmount. The zero value
// is a valid zero amount.
type Amount struct {
	value int64
}

// Zero is the empty amount.
var Zero = Amount{}

// NewAmount validates v and wraps it as an Amount.
func NewAmount(v int64) (Amount, error) {
	if v < 0 || v > MaxAmount {
		return Amount{}, &AmountRangeError{Value: v}
	}
	return Amount{value: v}, nil
}

// MustAmount is NewAmount for constants and tests. It panics on invalid input.
func MustAmount(v int64) Amount {
	a, err := NewAmount(v)
	if err != nil {
		panic(err)
	}
	return a
}

// Int64 returns the raw quantity.
func (a Amount) Int64() int64 { return a.value }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.value == 0 }

// Add returns a+b, failing if the sum exceeds MaxAmount.
func (a Amount) Add(b Amount) (Amount, error) {
	if b.value > MaxAmount-a.value {
		return Amount{}, &AmountRangeError{Value: a.value + b.value}
	}
	return Amount{value: a.value + b.value}, nil
}

// Sub returns a-b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b.value > a.value {
		return Amount{}, &AmountRangeError{Value: a.value - b.value}
	}
	return Amount{value: a.value - b.value}, nil
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if b.value < a.value {
		return b
	}
	return a
}

// Less reports whether a < b.
func (a Amount) Less(b Amount) bool { return a.value < b.value }

// Greater reports whether a > b.
func (a Amount) Greater(b Amount) bool { return a.value > b.value }

func (a Amount) String() string { return strconv.FormatInt(a.value, 10) }

// MarshalJSON encodes the amount as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON decodes a JSON number, enforcing the amount bounds.
func (a *Amount) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	parsed, err := NewAmount(v)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SumAmounts adds all amounts, failing on overflow.
func SumAmounts(amounts ...Amount) (Amount, error) {
	total := Zero
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}
