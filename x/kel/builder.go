package kel

import (
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// InceptionArgs configures a new identifier.
type InceptionArgs struct {
	Keys      []crypto.PublicKey
	Threshold gkel.Threshold
	// NextKeys are commitments to the keys that the first rotation must
	// reveal. An identifier without next keys cannot rotate.
	NextKeys         []crypto.Digest
	NextThreshold    gkel.Threshold
	Witnesses        []string
	WitnessThreshold uint32
	// Delegator is the prefix of the delegating identifier. When set, a
	// delegated inception is created.
	Delegator string
	Anchors   []Seal
	Algorithm crypto.Algorithm
}

// Incept returns a new inception event. The prefix is derived from the
// content, so the same arguments always produce the same prefix.
func Incept(args InceptionArgs) (*Event, error) {
	ev := &Event{
		Version:          Version,
		Type:             Inception,
		Sequence:         0,
		Threshold:        thresholdRef(args.Threshold),
		Keys:             args.Keys,
		NextKeys:         args.NextKeys,
		WitnessThreshold: args.WitnessThreshold,
		Witnesses:        args.Witnesses,
		Anchors:          args.Anchors,
		Delegator:        args.Delegator,
	}
	if len(args.NextKeys) > 0 {
		ev.NextThreshold = thresholdRef(args.NextThreshold)
	}
	if args.Delegator != "" {
		ev.Type = DelegatedInception
	}
	return finish(ev, args.Algorithm)
}

// RotationArgs configures a rotation. The signing threshold is not part of
// the arguments: a rotation always uses the next threshold committed to by
// the previous establishment event.
type RotationArgs struct {
	Keys          []crypto.PublicKey
	NextKeys      []crypto.Digest
	NextThreshold gkel.Threshold
	Anchors       []Seal
	Algorithm     crypto.Algorithm
}

// Rotate returns a rotation event that follows given state.
func Rotate(s State, args RotationArgs) (*Event, error) {
	if s.IsZero() {
		return nil, errors.Wrap(errors.ErrState, "cannot rotate an identifier that was not incepted")
	}
	if len(s.NextKeys) == 0 {
		return nil, errors.Wrap(errors.ErrState, "identifier is not transferable")
	}
	seq, prior := NextExpected(s)
	ev := &Event{
		Version:   Version,
		Type:      Rotation,
		Prefix:    s.Prefix,
		Sequence:  seq,
		Prior:     prior,
		Threshold: thresholdRef(s.NextThreshold),
		Keys:      args.Keys,
		NextKeys:  args.NextKeys,
		Anchors:   args.Anchors,
	}
	if len(args.NextKeys) > 0 {
		ev.NextThreshold = thresholdRef(args.NextThreshold)
	}
	if s.Delegator != "" {
		ev.Type = DelegatedRotation
	}
	return finish(ev, args.Algorithm)
}

// Interact returns an interaction event that follows given state and
// anchors given seals.
func Interact(s State, anchors []Seal, alg crypto.Algorithm) (*Event, error) {
	if s.IsZero() {
		return nil, errors.Wrap(errors.ErrState, "cannot interact with an identifier that was not incepted")
	}
	seq, prior := NextExpected(s)
	ev := &Event{
		Version:  Version,
		Type:     Interaction,
		Prefix:   s.Prefix,
		Sequence: seq,
		Prior:    prior,
		Anchors:  anchors,
	}
	return finish(ev, alg)
}

func finish(ev *Event, alg crypto.Algorithm) (*Event, error) {
	if err := Saidify(ev, alg); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid event")
	}
	return ev, nil
}

func thresholdRef(t gkel.Threshold) *gkel.Threshold {
	if t.IsZero() {
		return nil
	}
	return &t
}
