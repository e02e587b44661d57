package kel

import (
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/orm"
)

// Log persists accepted events and the resulting key states in a member
// database. Events of every identifier are kept in sequence order.
type Log struct {
	events orm.ModelBucket
	states orm.ModelBucket
}

// NewLog returns a log. All logs share the same buckets, so two instances
// over the same database see the same data.
func NewLog() *Log {
	return &Log{
		events: orm.NewModelBucket("kelevt", &SignedEvent{}),
		states: orm.NewModelBucket("kelstate", &State{}),
	}
}

func eventKey(prefix string, seq uint64) []byte {
	return append([]byte(prefix+"/"), orm.EncodeSequence(int64(seq))...)
}

// State returns the current key state of given identifier. ErrNotFound is
// returned for an unknown identifier.
func (l *Log) State(db gkel.ReadOnlyKVStore, prefix string) (State, error) {
	var s State
	if err := l.states.One(db, []byte(prefix), &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Append applies given event to the stored state of its identifier and
// persists both. Appending an event that was already accepted is a no-op.
// Use a cache wrap to make the write atomic with other changes.
func (l *Log) Append(db gkel.KVStore, se *SignedEvent) (State, error) {
	if se == nil || se.Event == nil {
		return State{}, errors.Wrap(errors.ErrEmpty, "event")
	}
	ev := se.Event

	current, err := l.State(db, ev.Prefix)
	switch {
	case errors.ErrNotFound.Is(err):
		current = State{}
	case err != nil:
		return State{}, err
	}

	if !current.IsZero() && ev.Sequence <= current.Sequence {
		var stored SignedEvent
		if err := l.events.One(db, eventKey(ev.Prefix, ev.Sequence), &stored); err != nil {
			return current, errors.Wrap(err, "stored event")
		}
		if stored.Event.Digest == ev.Digest {
			return current, nil
		}
		return current, errors.Wrapf(errors.ErrDigestMismatch, "another event already accepted at sequence %d", ev.Sequence)
	}

	next, err := current.Apply(ev)
	if err != nil {
		return current, err
	}
	if err := l.events.Put(db, eventKey(ev.Prefix, ev.Sequence), se); err != nil {
		return current, errors.Wrap(err, "save event")
	}
	if err := l.states.Put(db, []byte(ev.Prefix), &next); err != nil {
		return current, errors.Wrap(err, "save state")
	}
	return next, nil
}

// Event returns the accepted event of given identifier at given sequence.
func (l *Log) Event(db gkel.ReadOnlyKVStore, prefix string, seq uint64) (*SignedEvent, error) {
	var se SignedEvent
	if err := l.events.One(db, eventKey(prefix, seq), &se); err != nil {
		return nil, err
	}
	return &se, nil
}

// Events returns all accepted events of given identifier starting with
// given sequence number.
func (l *Log) Events(db gkel.ReadOnlyKVStore, prefix string, from uint64) ([]SignedEvent, error) {
	var all []SignedEvent
	if _, err := l.events.ByPrefix(db, []byte(prefix+"/"), &all); err != nil {
		return nil, err
	}
	res := all[:0]
	for _, se := range all {
		if se.Event.Sequence >= from {
			res = append(res, se)
		}
	}
	return res, nil
}

// Snapshot returns the current state together with the full event log of
// given identifier.
func (l *Log) Snapshot(db gkel.ReadOnlyKVStore, prefix string) (*Snapshot, error) {
	s, err := l.State(db, prefix)
	if err != nil {
		return nil, err
	}
	events, err := l.Events(db, prefix, 0)
	if err != nil {
		return nil, err
	}
	return &Snapshot{State: s, Events: events}, nil
}
