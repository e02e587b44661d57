package kel

import (
	"fmt"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// State is the key state of an identifier after applying all its accepted
// events. A State is a value: Apply returns a new one and never modifies the
// receiver.
type State struct {
	Prefix string `json:"i"`
	// Sequence is the sequence number of the latest accepted event.
	Sequence uint64        `json:"s,string"`
	Digest   crypto.Digest `json:"d"`
	// Type is the type of the latest accepted event.
	Type Ilk `json:"et"`
	// Establishment is the sequence number of the latest establishment
	// event.
	Establishment    uint64             `json:"ee,string"`
	Keys             []crypto.PublicKey `json:"k"`
	Threshold        gkel.Threshold     `json:"kt"`
	NextKeys         []crypto.Digest    `json:"n"`
	NextThreshold    gkel.Threshold     `json:"nt"`
	Witnesses        []string           `json:"b"`
	WitnessThreshold uint32             `json:"bt,string"`
	Delegator        string             `json:"di,omitempty"`
}

// IsZero returns true if no event was applied yet.
func (s State) IsZero() bool {
	return s.Prefix == ""
}

// Validate implements orm.Model.
func (s *State) Validate() error {
	if s.IsZero() {
		return errors.Wrap(errors.ErrEmpty, "prefix")
	}
	return s.Digest.Validate()
}

// Copy returns a deep copy of this state.
func (s State) Copy() State {
	c := s
	c.Keys = append([]crypto.PublicKey(nil), s.Keys...)
	c.NextKeys = append([]crypto.Digest(nil), s.NextKeys...)
	c.Witnesses = append([]string(nil), s.Witnesses...)
	return c
}

// Apply returns the state that results from accepting given event.
//
// The event must directly follow this state: its sequence number must be the
// current one plus one and it must reference the current digest. A rotation
// must reveal the keys committed to by the previous establishment event, in
// the same order, and use the committed next threshold.
func (s State) Apply(ev *Event) (State, error) {
	if err := ev.Validate(); err != nil {
		return s, err
	}
	if err := Validate(ev, s); err != nil {
		return s, err
	}
	if err := VerifyDigest(ev); err != nil {
		return s, err
	}

	next := s.Copy()
	next.Prefix = ev.Prefix
	next.Sequence = ev.Sequence
	next.Digest = ev.Digest
	next.Type = ev.Type

	switch {
	case ev.Type.IsInception():
		next.Establishment = ev.Sequence
		next.Keys = append([]crypto.PublicKey(nil), ev.Keys...)
		next.Threshold = *ev.Threshold
		next.NextKeys = append([]crypto.Digest(nil), ev.NextKeys...)
		next.NextThreshold = gkel.Threshold{}
		if ev.NextThreshold != nil {
			next.NextThreshold = *ev.NextThreshold
		}
		next.Witnesses = append([]string(nil), ev.Witnesses...)
		next.WitnessThreshold = ev.WitnessThreshold
		next.Delegator = ev.Delegator
	case ev.Type.IsRotation():
		if s.Delegator == "" && ev.Type == DelegatedRotation {
			return s, errors.Wrap(errors.ErrInput, "delegated rotation of an identifier without a delegator")
		}
		if s.Delegator != "" && ev.Type == Rotation {
			return s, errors.Wrap(errors.ErrInput, "a delegated identifier must use delegated rotation")
		}
		if err := s.checkCommitment(ev); err != nil {
			return s, err
		}
		next.Establishment = ev.Sequence
		next.Keys = append([]crypto.PublicKey(nil), ev.Keys...)
		next.Threshold = *ev.Threshold
		next.NextKeys = append([]crypto.Digest(nil), ev.NextKeys...)
		next.NextThreshold = gkel.Threshold{}
		if ev.NextThreshold != nil {
			next.NextThreshold = *ev.NextThreshold
		}
	}
	return next, nil
}

// checkCommitment ensures that a rotation reveals the pre-rotated keys.
func (s State) checkCommitment(ev *Event) error {
	if len(s.NextKeys) == 0 {
		return errors.Wrap(errors.ErrCommitmentMismatch, "identifier is not transferable")
	}
	if len(ev.Keys) != len(s.NextKeys) {
		return errors.Wrapf(errors.ErrCommitmentMismatch, "%d keys revealed, %d committed", len(ev.Keys), len(s.NextKeys))
	}
	for i, k := range ev.Keys {
		if !s.NextKeys[i].Matches([]byte(k)) {
			return errors.Wrapf(errors.ErrCommitmentMismatch, "key %d does not match its commitment", i)
		}
	}
	if !ev.Threshold.Equal(s.NextThreshold) {
		return errors.Wrapf(errors.ErrCommitmentMismatch, "threshold %s, committed %s", ev.Threshold, s.NextThreshold)
	}
	return nil
}

// KeyIndex returns the position of given key in the current key list.
func (s State) KeyIndex(k crypto.PublicKey) (int, bool) {
	for i, key := range s.Keys {
		if key == k {
			return i, true
		}
	}
	return 0, false
}

func (s State) String() string {
	return fmt.Sprintf("%s@%d:%s", s.Prefix, s.Sequence, s.Digest)
}
