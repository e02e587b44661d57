package gkel

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/iov-one/gkel/errors"
)

type thresholdKind uint8

const (
	thresholdUnset thresholdKind = iota
	thresholdCount
	thresholdFraction
	thresholdWeighted
)

// Threshold declares how much signing weight is required for an event to be
// accepted. Three forms are supported:
//
//	"2"                   at least two distinct signers
//	"2/3"                 at least two thirds of all signers
//	["1/2", "1/2", "1/4"] the sum of signer weights must reach one
//
// The zero value is not a valid threshold.
type Threshold struct {
	kind     thresholdKind
	count    uint32
	fraction Fraction
	weights  []Fraction
}

// NewCountThreshold returns a threshold satisfied by n distinct signers.
func NewCountThreshold(n uint32) Threshold {
	return Threshold{kind: thresholdCount, count: n}
}

// NewFractionThreshold returns a threshold satisfied when the given fraction
// of all signers contributed.
func NewFractionThreshold(f Fraction) Threshold {
	return Threshold{kind: thresholdFraction, fraction: f}
}

// NewWeightedThreshold returns a threshold where each signer has its own
// weight. It is satisfied when the collected weights sum up to at least one.
func NewWeightedThreshold(weights ...Fraction) Threshold {
	ws := make([]Fraction, len(weights))
	copy(ws, weights)
	return Threshold{kind: thresholdWeighted, weights: ws}
}

// ParseThreshold reads the count or fraction form of a threshold. Use a
// list of fractions for the weighted form.
func ParseThreshold(raw string) (Threshold, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		f, err := ParseFractionString(raw)
		if err != nil {
			return Threshold{}, errors.Wrap(err, "fraction threshold")
		}
		return NewFractionThreshold(*f), nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return Threshold{}, errors.Wrapf(errors.ErrInput, "threshold %q", raw)
	}
	return NewCountThreshold(uint32(n)), nil
}

// ParseWeightedThreshold reads a weighted threshold from its fraction list.
func ParseWeightedThreshold(raw ...string) (Threshold, error) {
	weights := make([]Fraction, 0, len(raw))
	for i, r := range raw {
		f, err := ParseFractionString(r)
		if err != nil {
			return Threshold{}, errors.Wrapf(err, "weight %d", i)
		}
		weights = append(weights, *f)
	}
	return NewWeightedThreshold(weights...), nil
}

// MustParseThreshold is like ParseThreshold but panics on error. Use it for
// constants and tests.
func MustParseThreshold(raw string) Threshold {
	t, err := ParseThreshold(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// IsZero returns true if this threshold was never set.
func (t Threshold) IsZero() bool {
	return t.kind == thresholdUnset
}

// Weighted returns true for the weighted list form.
func (t Threshold) Weighted() bool {
	return t.kind == thresholdWeighted
}

// Validate returns an error if this threshold cannot be used by a group of
// n signers. A threshold that could never be satisfied is invalid.
func (t Threshold) Validate(n int) error {
	if n <= 0 {
		return errors.Wrap(errors.ErrEmpty, "no signers")
	}
	switch t.kind {
	case thresholdCount:
		if t.count == 0 {
			return errors.Wrap(errors.ErrInput, "zero threshold")
		}
		if int64(t.count) > int64(n) {
			return errors.Wrapf(errors.ErrInput, "threshold %d exceeds %d signers", t.count, n)
		}
	case thresholdFraction:
		if err := t.fraction.Validate(); err != nil {
			return errors.Wrap(err, "fraction")
		}
		if t.fraction.Numerator == 0 {
			return errors.Wrap(errors.ErrInput, "zero threshold")
		}
		if t.fraction.Numerator > t.fraction.Denominator {
			return errors.Wrap(errors.ErrInput, "fraction greater than one")
		}
	case thresholdWeighted:
		if len(t.weights) != n {
			return errors.Wrapf(errors.ErrInput, "%d weights for %d signers", len(t.weights), n)
		}
		var errs error
		sum := new(big.Rat)
		for i, w := range t.weights {
			if err := w.Validate(); err != nil {
				errs = errors.AppendField(errs, fmt.Sprintf("weights.%d", i), err, "invalid")
				continue
			}
			if w.Numerator == 0 || w.Numerator > w.Denominator {
				errs = errors.AppendField(errs, fmt.Sprintf("weights.%d", i), errors.ErrInput, "must be in (0, 1]")
				continue
			}
			sum.Add(sum, w.Rat())
		}
		if errs != nil {
			return errs
		}
		if sum.Cmp(big.NewRat(1, 1)) < 0 {
			return errors.Wrap(errors.ErrInput, "weights cannot reach one")
		}
	default:
		return errors.Wrap(errors.ErrEmpty, "threshold")
	}
	return nil
}

// Weight returns the signing weight of the signer at given position.
// Count thresholds give every signer the weight of one.
func (t Threshold) Weight(index int) Fraction {
	if t.kind == thresholdWeighted {
		if index < 0 || index >= len(t.weights) {
			return Fraction{Denominator: 1}
		}
		return t.weights[index]
	}
	return Fraction{Numerator: 1, Denominator: 1}
}

// Satisfied returns true if signatures made by signers at given positions
// carry enough weight within a group of n signers. Repeated and out of range
// positions are ignored.
func (t Threshold) Satisfied(n int, indices []int) bool {
	if t.Validate(n) != nil {
		return false
	}
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < n {
			seen[i] = struct{}{}
		}
	}
	switch t.kind {
	case thresholdCount:
		return len(seen) >= int(t.count)
	case thresholdFraction:
		got := big.NewRat(int64(len(seen)), int64(n))
		return got.Cmp(t.fraction.Rat()) >= 0
	case thresholdWeighted:
		sum := new(big.Rat)
		for i := range seen {
			sum.Add(sum, t.weights[i].Rat())
		}
		return sum.Cmp(big.NewRat(1, 1)) >= 0
	}
	return false
}

// Equal returns true if both thresholds declare the same requirement in the
// same form.
func (t Threshold) Equal(other Threshold) bool {
	if t.kind != other.kind {
		return false
	}
	switch t.kind {
	case thresholdCount:
		return t.count == other.count
	case thresholdFraction:
		return t.fraction.Compare(other.fraction) == 0
	case thresholdWeighted:
		if len(t.weights) != len(other.weights) {
			return false
		}
		for i := range t.weights {
			if t.weights[i].Compare(other.weights[i]) != 0 {
				return false
			}
		}
	}
	return true
}

func (t Threshold) String() string {
	switch t.kind {
	case thresholdCount:
		return strconv.FormatUint(uint64(t.count), 10)
	case thresholdFraction:
		return fmt.Sprintf("%d/%d", t.fraction.Numerator, t.fraction.Denominator)
	case thresholdWeighted:
		ws := make([]string, len(t.weights))
		for i, w := range t.weights {
			ws[i] = w.String()
		}
		return "[" + strings.Join(ws, ",") + "]"
	}
	return ""
}

// MarshalJSON encodes count and fraction thresholds as a string and the
// weighted form as a list of fraction strings.
func (t Threshold) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case thresholdCount, thresholdFraction:
		return json.Marshal(t.String())
	case thresholdWeighted:
		ws := make([]string, len(t.weights))
		for i, w := range t.weights {
			ws[i] = fmt.Sprintf("%d/%d", w.Numerator, w.Denominator)
		}
		return json.Marshal(ws)
	}
	return []byte(`""`), nil
}

func (t *Threshold) UnmarshalJSON(raw []byte) error {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		parsed, err := ParseWeightedThreshold(list...)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	var num uint32
	if err := json.Unmarshal(raw, &num); err == nil {
		*t = NewCountThreshold(num)
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.Wrap(errors.ErrInput, "threshold must be a string, a number or a list")
	}
	if s == "" {
		*t = Threshold{}
		return nil
	}
	parsed, err := ParseThreshold(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
