package kel

import (
	"encoding/json"
	"fmt"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// Version is the serialization version of all events produced by this
// package.
const Version = "GKEL10JSON"

// Ilk is the type of an event.
type Ilk string

const (
	Inception          Ilk = "icp"
	Rotation           Ilk = "rot"
	Interaction        Ilk = "ixn"
	DelegatedInception Ilk = "dip"
	DelegatedRotation  Ilk = "drt"
)

// Validate returns an error if this is not a known event type.
func (i Ilk) Validate() error {
	switch i {
	case Inception, Rotation, Interaction, DelegatedInception, DelegatedRotation:
		return nil
	}
	return errors.Wrapf(errors.ErrInput, "unknown event type %q", string(i))
}

// IsInception returns true for both delegated and not delegated inceptions.
func (i Ilk) IsInception() bool {
	return i == Inception || i == DelegatedInception
}

// IsRotation returns true for both delegated and not delegated rotations.
func (i Ilk) IsRotation() bool {
	return i == Rotation || i == DelegatedRotation
}

// IsEstablishment returns true for event types that set keys.
func (i Ilk) IsEstablishment() bool {
	return i.IsInception() || i.IsRotation()
}

// IsDelegated returns true for event types that must be anchored by a
// delegator.
func (i Ilk) IsDelegated() bool {
	return i == DelegatedInception || i == DelegatedRotation
}

// Seal references an event of another identifier. A seal placed in the
// event of a delegator approves the referenced delegated event.
type Seal struct {
	Prefix   string        `json:"i"`
	Sequence uint64        `json:"s,string"`
	Digest   crypto.Digest `json:"d"`
}

// Validate returns an error if this seal is not complete.
func (s Seal) Validate() error {
	var errs error
	if s.Prefix == "" {
		errs = errors.AppendField(errs, "i", errors.ErrEmpty, "prefix")
	}
	errs = errors.AppendField(errs, "d", s.Digest.Validate(), "digest")
	return errs
}

func (s Seal) String() string {
	return fmt.Sprintf("%s/%d/%s", s.Prefix, s.Sequence, s.Digest)
}

// SealOf returns the seal that references given event.
func SealOf(ev *Event) Seal {
	return Seal{Prefix: ev.Prefix, Sequence: ev.Sequence, Digest: ev.Digest}
}

// Event is a key event. The digest is computed over the serialized event
// with the digest field, and for inceptions also the prefix field, replaced
// by a placeholder. Use Incept, Rotate and Interact to create events.
type Event struct {
	Version          string             `json:"v"`
	Type             Ilk                `json:"t"`
	Digest           crypto.Digest      `json:"d"`
	Prefix           string             `json:"i"`
	Sequence         uint64             `json:"s,string"`
	Prior            crypto.Digest      `json:"p,omitempty"`
	Threshold        *gkel.Threshold    `json:"kt,omitempty"`
	Keys             []crypto.PublicKey `json:"k,omitempty"`
	NextThreshold    *gkel.Threshold    `json:"nt,omitempty"`
	NextKeys         []crypto.Digest    `json:"n,omitempty"`
	WitnessThreshold uint32             `json:"bt,string,omitempty"`
	Witnesses        []string           `json:"b,omitempty"`
	Anchors          []Seal             `json:"a,omitempty"`
	Delegator        string             `json:"di,omitempty"`
}

// Validate checks that the event is well formed. It does not check the
// event against any state.
func (e *Event) Validate() error {
	var errs error
	if e.Version != Version {
		errs = errors.AppendField(errs, "v", errors.ErrInput, "unsupported version %q", e.Version)
	}
	if err := e.Type.Validate(); err != nil {
		return errors.Append(errs, errors.Field("t", err, "type"))
	}
	errs = errors.AppendField(errs, "d", e.Digest.Validate(), "digest")
	if e.Prefix == "" {
		errs = errors.AppendField(errs, "i", errors.ErrEmpty, "prefix")
	}

	if e.Type.IsInception() {
		if e.Sequence != 0 {
			errs = errors.AppendField(errs, "s", errors.ErrInput, "inception must be at sequence 0")
		}
		if e.Prior != "" {
			errs = errors.AppendField(errs, "p", errors.ErrInput, "inception has no prior event")
		}
		if e.WitnessThreshold > uint32(len(e.Witnesses)) {
			errs = errors.AppendField(errs, "bt", errors.ErrInput, "witness threshold %d exceeds %d witnesses", e.WitnessThreshold, len(e.Witnesses))
		}
		if len(e.Witnesses) > 0 && e.WitnessThreshold == 0 {
			errs = errors.AppendField(errs, "bt", errors.ErrInput, "witnesses without a threshold")
		}
	} else {
		if e.Sequence == 0 {
			errs = errors.AppendField(errs, "s", errors.ErrInput, "only inception is at sequence 0")
		}
		errs = errors.AppendField(errs, "p", e.Prior.Validate(), "prior")
		if len(e.Witnesses) != 0 {
			errs = errors.AppendField(errs, "b", errors.ErrInput, "witnesses can be set only at inception")
		}
	}

	switch {
	case e.Type == DelegatedInception && e.Delegator == "":
		errs = errors.AppendField(errs, "di", errors.ErrEmpty, "delegated inception requires a delegator")
	case e.Type != DelegatedInception && e.Delegator != "":
		errs = errors.AppendField(errs, "di", errors.ErrInput, "delegator can be set only at delegated inception")
	}

	if e.Type.IsEstablishment() {
		if len(e.Keys) == 0 {
			errs = errors.AppendField(errs, "k", errors.ErrEmpty, "keys")
		}
		for i, k := range e.Keys {
			errs = errors.AppendField(errs, fmt.Sprintf("k.%d", i), k.Validate(), "key")
		}
		if e.Threshold == nil {
			errs = errors.AppendField(errs, "kt", errors.ErrEmpty, "threshold")
		} else if len(e.Keys) > 0 {
			errs = errors.AppendField(errs, "kt", e.Threshold.Validate(len(e.Keys)), "threshold")
		}
		for i, d := range e.NextKeys {
			errs = errors.AppendField(errs, fmt.Sprintf("n.%d", i), d.Validate(), "next key")
		}
		switch {
		case len(e.NextKeys) == 0 && e.NextThreshold != nil:
			errs = errors.AppendField(errs, "nt", errors.ErrInput, "next threshold without next keys")
		case len(e.NextKeys) != 0 && e.NextThreshold == nil:
			errs = errors.AppendField(errs, "nt", errors.ErrEmpty, "next threshold")
		case len(e.NextKeys) != 0:
			errs = errors.AppendField(errs, "nt", e.NextThreshold.Validate(len(e.NextKeys)), "next threshold")
		}
	} else {
		if len(e.Keys) != 0 || e.Threshold != nil || len(e.NextKeys) != 0 || e.NextThreshold != nil {
			errs = errors.AppendField(errs, "k", errors.ErrInput, "interaction cannot change keys")
		}
	}

	for i, s := range e.Anchors {
		errs = errors.AppendField(errs, fmt.Sprintf("a.%d", i), s.Validate(), "anchor")
	}
	return errs
}

// Serialize returns the canonical serialization of this event.
func (e *Event) Serialize() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInput, "serialize: %s", err)
	}
	return raw, nil
}

// Copy returns a deep copy of this event.
func (e *Event) Copy() *Event {
	c := *e
	if e.Threshold != nil {
		t := *e.Threshold
		c.Threshold = &t
	}
	if e.NextThreshold != nil {
		t := *e.NextThreshold
		c.NextThreshold = &t
	}
	c.Keys = append([]crypto.PublicKey(nil), e.Keys...)
	c.NextKeys = append([]crypto.Digest(nil), e.NextKeys...)
	c.Witnesses = append([]string(nil), e.Witnesses...)
	c.Anchors = append([]Seal(nil), e.Anchors...)
	return &c
}

// HasAnchor returns true if this event contains given seal.
func (e *Event) HasAnchor(s Seal) bool {
	for _, a := range e.Anchors {
		if a == s {
			return true
		}
	}
	return false
}
