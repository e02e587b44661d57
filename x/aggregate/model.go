package aggregate

import (
	"encoding/json"
	"sort"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
)

// Status is the aggregation phase of a proposal.
type Status string

const (
	Pending   Status = "pending"
	Satisfied Status = "satisfied"
	Assembled Status = "assembled"
)

// Proposal is an event, or another payload identified by its digest, waiting
// for signatures.
type Proposal struct {
	ID      crypto.Digest   `json:"id"`
	Event   *kel.Event      `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Keys and Threshold are taken from the key state that is in force
	// for the proposed event.
	Keys       []crypto.PublicKey `json:"keys"`
	Threshold  gkel.Threshold     `json:"threshold"`
	Signatures []kel.Signature    `json:"signatures"`
	Status     Status             `json:"status"`
}

// Validate implements orm.Model.
func (p *Proposal) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "id", p.ID.Validate(), "invalid")
	switch {
	case p.Event == nil && len(p.Payload) == 0:
		errs = errors.AppendField(errs, "event", errors.ErrEmpty, "event or payload required")
	case p.Event != nil:
		errs = errors.AppendField(errs, "event", p.Event.Validate(), "invalid")
		if p.Event.Digest != p.ID {
			errs = errors.AppendField(errs, "id", errors.ErrDigestMismatch, "not the event digest")
		}
	}
	errs = errors.AppendField(errs, "threshold", p.Threshold.Validate(len(p.Keys)), "invalid")
	switch p.Status {
	case Pending, Satisfied, Assembled:
	default:
		errs = errors.AppendField(errs, "status", errors.ErrInput, "unknown status %q", p.Status)
	}
	return errs
}

// Digest returns the digest that members sign, which is also the proposal
// id.
func (p *Proposal) Digest() crypto.Digest {
	return p.ID
}

// Signers returns the key indexes that signed this proposal.
func (p *Proposal) Signers() []int {
	res := make([]int, len(p.Signatures))
	for i, s := range p.Signatures {
		res[i] = s.Index
	}
	sort.Ints(res)
	return res
}

// HasSigned returns true if a signature of the key at given index was
// collected.
func (p *Proposal) HasSigned(index int) bool {
	for _, s := range p.Signatures {
		if s.Index == index {
			return true
		}
	}
	return false
}

// IsSatisfied returns true if collected signatures meet the threshold.
func (p *Proposal) IsSatisfied() bool {
	return p.Threshold.Satisfied(len(p.Keys), p.Signers())
}

// State returns a summary of the aggregation progress.
func (p *Proposal) State() AggregateState {
	return AggregateState{
		Digest:  p.Digest(),
		Status:  p.Status,
		Signers: p.Signers(),
	}
}

// AggregateState is the result of adding a signature to a proposal.
type AggregateState struct {
	Digest  crypto.Digest
	Status  Status
	Signers []int
}

// SigningKeys returns the keys and the threshold that must approve given
// event. Establishment events are approved by the keys they establish,
// interactions by the keys of the current state.
func SigningKeys(ev *kel.Event, s kel.State) ([]crypto.PublicKey, gkel.Threshold, error) {
	if ev.Type.IsEstablishment() {
		if ev.Threshold == nil {
			return nil, gkel.Threshold{}, errors.Wrap(errors.ErrEmpty, "threshold")
		}
		return ev.Keys, *ev.Threshold, nil
	}
	if s.IsZero() {
		return nil, gkel.Threshold{}, errors.Wrapf(errors.ErrState, "no key state for %s", ev.Prefix)
	}
	return s.Keys, s.Threshold, nil
}
