package gkel

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/iov-one/gkel/errors"
)

// Fraction is a non negative rational number. Signing weights and fractional
// thresholds are expressed with it.
type Fraction struct {
	Numerator   uint32
	Denominator uint32
}

// String returns a human readable fraction representation.
func (f *Fraction) String() string {
	if f == nil {
		return "nil"
	}
	if f.Numerator == 0 {
		return "0"
	}
	if f.Denominator == 1 {
		return fmt.Sprint(f.Numerator)
	}
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// MarshalJSON serializes a fraction using its human readable form.
func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Fraction) UnmarshalJSON(raw []byte) error {
	// Prioritize human readable format.
	var human string
	if err := json.Unmarshal(raw, &human); err == nil {
		frac, err := ParseFractionString(human)
		if err != nil {
			return errors.Wrap(err, "fraction string")
		}
		*f = *frac
		return nil
	}

	var frac struct {
		Numerator   uint32
		Denominator uint32
	}
	if err := json.Unmarshal(raw, &frac); err != nil {
		return errors.Wrap(errors.ErrInput, err.Error())
	}
	f.Numerator = frac.Numerator
	f.Denominator = frac.Denominator
	return nil
}

// Validate returns an error if this fraction represents an invalid value.
func (f Fraction) Validate() error {
	if f.Denominator == 0 {
		return errors.Wrap(errors.ErrState, "zero division")
	}
	return nil
}

// Normalize returns a new fraction instance that has its numerator and
// denominator reduced to the smallest possible representation.
func (f Fraction) Normalize() Fraction {
	div := uintGcd(f.Numerator, f.Denominator)
	if div == 0 {
		return f
	}
	return Fraction{
		Numerator:   f.Numerator / div,
		Denominator: f.Denominator / div,
	}
}

// Rat returns the value of this fraction as an arbitrary precision rational
// number. An invalid fraction is represented as zero.
func (f Fraction) Rat() *big.Rat {
	if f.Denominator == 0 {
		return new(big.Rat)
	}
	return big.NewRat(int64(f.Numerator), int64(f.Denominator))
}

// Compare returns an integer comparing two fractions. The result will be 0
// if a == b, -1 if a < b, and +1 if a > b.
func (f Fraction) Compare(other Fraction) int {
	return f.Rat().Cmp(other.Rat())
}

func uintGcd(a, b uint32) uint32 {
	for b != 0 {
		t := b
		b = a % b
		a = t
	}
	return a
}

// ParseFractionString returns a fraction value that is represented by given
// string. Surrounding whitespace is ignored.
// This function does not fail if representation format is correct but the
// value is invalid (i.e. value of "2/0").
func ParseFractionString(raw string) (*Fraction, error) {
	chunks := strings.SplitN(strings.TrimSpace(raw), "/", 2)
	n, err := strconv.ParseUint(strings.TrimSpace(chunks[0]), 10, 32)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, "numerator")
	}
	if len(chunks) == 1 {
		return &Fraction{Numerator: uint32(n), Denominator: 1}, nil
	}
	d, err := strconv.ParseUint(strings.TrimSpace(chunks[1]), 10, 32)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInput, "denominator")
	}
	return &Fraction{Numerator: uint32(n), Denominator: uint32(d)}, nil
}
