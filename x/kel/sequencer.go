package kel

import (
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// NextExpected returns the sequence number and the prior digest that the
// next event of an identifier in given state must declare. For a zero state
// the inception is expected.
func NextExpected(s State) (uint64, crypto.Digest) {
	if s.IsZero() {
		return 0, ""
	}
	return s.Sequence + 1, s.Digest
}

// Validate returns an error if given event does not directly follow given
// state. Returned errors are out of order errors (see IsOutOfOrder).
func Validate(ev *Event, s State) error {
	seq, prior := NextExpected(s)
	if s.IsZero() {
		if !ev.Type.IsInception() {
			return errors.Wrapf(errors.ErrSequenceMismatch, "%s event for an unknown identifier", ev.Type)
		}
	} else {
		if ev.Type.IsInception() {
			return errors.Wrapf(errors.ErrSequenceMismatch, "%s already incepted", s.Prefix)
		}
		if ev.Prefix != s.Prefix {
			return errors.Wrapf(errors.ErrState, "event of %s applied to %s", ev.Prefix, s.Prefix)
		}
	}
	if ev.Sequence != seq {
		return errors.Wrapf(errors.ErrSequenceMismatch, "want sequence %d, got %d", seq, ev.Sequence)
	}
	if ev.Prior != prior {
		return errors.Wrapf(errors.ErrDigestMismatch, "want prior %q, got %q", prior, ev.Prior)
	}
	return nil
}

// IsOutOfOrder returns true if given error was caused by an event that does
// not directly follow the state it was applied to.
func IsOutOfOrder(err error) bool {
	return errors.ErrSequenceMismatch.Is(err) || errors.ErrDigestMismatch.Is(err)
}
