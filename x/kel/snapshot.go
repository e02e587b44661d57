package kel

import (
	"github.com/iov-one/gkel/errors"
)

// Snapshot is a point in time copy of the key state of a remote identifier,
// as returned by a key state query. Snapshots are read only: a newer
// snapshot replaces an older one, they are never merged.
type Snapshot struct {
	State    State         `json:"state"`
	Events   []SignedEvent `json:"events"`
	Receipts []Receipt     `json:"receipts,omitempty"`
}

// Copy returns a deep copy of this snapshot.
func (s *Snapshot) Copy() *Snapshot {
	c := &Snapshot{
		State:    s.State.Copy(),
		Receipts: append([]Receipt(nil), s.Receipts...),
	}
	if s.Events != nil {
		c.Events = make([]SignedEvent, len(s.Events))
	}
	for i, se := range s.Events {
		c.Events[i] = SignedEvent{
			Event:      se.Event.Copy(),
			Signatures: append([]Signature(nil), se.Signatures...),
		}
	}
	return c
}

// Anchors returns true if any accepted event of the identifier contains
// given seal.
func (s *Snapshot) Anchors(seal Seal) bool {
	for _, se := range s.Events {
		if se.Event.HasAnchor(seal) {
			return true
		}
	}
	return false
}

// Latest returns the most recent accepted event or nil.
func (s *Snapshot) Latest() *SignedEvent {
	if len(s.Events) == 0 {
		return nil
	}
	return &s.Events[len(s.Events)-1]
}

// StateAt returns the key state right after the event with given sequence
// number was accepted. It replays the events of this snapshot.
func (s *Snapshot) StateAt(seq uint64) (State, error) {
	if s.State.IsZero() || seq > s.State.Sequence {
		return State{}, errors.Wrapf(errors.ErrNotYetVisible, "sequence %d of %s", seq, s.State.Prefix)
	}
	if seq == s.State.Sequence {
		return s.State.Copy(), nil
	}
	var st State
	for _, se := range s.Events {
		next, err := st.Apply(se.Event)
		if err != nil {
			return State{}, errors.Wrapf(err, "replay %s at %d", se.Event.Prefix, se.Event.Sequence)
		}
		st = next
		if st.Sequence == seq {
			return st, nil
		}
	}
	return State{}, errors.Wrapf(errors.ErrNotFound, "sequence %d of %s", seq, s.State.Prefix)
}
