package aggregate

import (
	"encoding/json"
	"sort"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/orm"
	"github.com/iov-one/gkel/x/kel"
)

// Aggregator keeps proposals in a member database.
type Aggregator struct {
	bucket orm.ModelBucket
	logger gkel.Logger
}

// NewAggregator returns an aggregator. Nil logger discards all messages.
func NewAggregator(logger gkel.Logger) *Aggregator {
	return &Aggregator{
		bucket: orm.NewModelBucket("proposal", &Proposal{}),
		logger: gkel.LoggerOrDefault(logger).With("module", "aggregate"),
	}
}

// Propose stores a new proposal for given event and returns its id.
// Proposing the same event again returns the id of the existing proposal
// and keeps collected signatures.
func (a *Aggregator) Propose(db gkel.KVStore, ev *kel.Event, keys []crypto.PublicKey, threshold gkel.Threshold) (crypto.Digest, error) {
	if ev == nil {
		return "", errors.Wrap(errors.ErrEmpty, "event")
	}
	p := &Proposal{
		ID:        ev.Digest,
		Event:     ev,
		Keys:      keys,
		Threshold: threshold,
		Status:    Pending,
	}
	if err := a.propose(db, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// ProposePayload stores a new proposal for a payload that is not an event,
// for example an endpoint authorization reply. The digest must be computed
// by the caller and is the proposal id.
func (a *Aggregator) ProposePayload(db gkel.KVStore, d crypto.Digest, payload json.RawMessage, keys []crypto.PublicKey, threshold gkel.Threshold) (crypto.Digest, error) {
	p := &Proposal{
		ID:        d,
		Payload:   payload,
		Keys:      keys,
		Threshold: threshold,
		Status:    Pending,
	}
	if err := a.propose(db, p); err != nil {
		return "", err
	}
	return d, nil
}

func (a *Aggregator) propose(db gkel.KVStore, p *Proposal) error {
	if ok, err := a.bucket.Has(db, []byte(p.ID)); err != nil {
		return errors.Wrap(err, "proposal lookup")
	} else if ok {
		return nil
	}
	if err := a.bucket.Put(db, []byte(p.ID), p); err != nil {
		return errors.Wrap(err, "save proposal")
	}
	if p.Event != nil {
		a.logger.Debug("proposal created", "prefix", p.Event.Prefix, "type", p.Event.Type, "sn", p.Event.Sequence, "digest", p.ID)
	} else {
		a.logger.Debug("proposal created", "digest", p.ID)
	}
	return nil
}

// Get returns the proposal with given id.
func (a *Aggregator) Get(db gkel.ReadOnlyKVStore, id crypto.Digest) (*Proposal, error) {
	var p Proposal
	if err := a.bucket.One(db, []byte(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a proposal with its signatures. Deleting an unknown
// proposal is a no-op.
func (a *Aggregator) Delete(db gkel.KVStore, id crypto.Digest) error {
	err := a.bucket.Delete(db, []byte(id))
	if err != nil && !errors.ErrNotFound.Is(err) {
		return errors.Wrap(err, "delete proposal")
	}
	return nil
}

// AddSignature adds a signature share to the proposal.
//
// A signature over another digest fails with ErrSignatureMismatch and a
// signature that does not verify with ErrInvalidSignature. Both reject only
// this contribution. Adding a signature of a key that already signed, or
// adding a signature to an assembled proposal, is a no-op.
func (a *Aggregator) AddSignature(db gkel.KVStore, id crypto.Digest, sig kel.Signature) (AggregateState, error) {
	p, err := a.Get(db, id)
	if err != nil {
		return AggregateState{}, err
	}
	if sig.Digest != p.Digest() {
		a.logger.Error("signature over another digest", "proposal", id, "signed", sig.Digest, "index", sig.Index)
		return p.State(), errors.Wrapf(errors.ErrSignatureMismatch, "proposal %s, signed %s", id, sig.Digest)
	}
	if sig.Index < 0 || sig.Index >= len(p.Keys) {
		a.logger.Error("signature of an unknown key", "proposal", id, "index", sig.Index)
		return p.State(), errors.Wrapf(errors.ErrInvalidSignature, "no key at index %d", sig.Index)
	}
	if !sig.Verify(p.Keys[sig.Index], p.Digest()) {
		a.logger.Error("invalid signature", "proposal", id, "index", sig.Index)
		return p.State(), errors.Wrapf(errors.ErrInvalidSignature, "index %d", sig.Index)
	}
	if p.Status == Assembled || p.HasSigned(sig.Index) {
		return p.State(), nil
	}

	p.Signatures = append(p.Signatures, sig)
	sort.Slice(p.Signatures, func(i, j int) bool { return p.Signatures[i].Index < p.Signatures[j].Index })
	if p.IsSatisfied() {
		if p.Status != Satisfied {
			a.logger.Info("quorum reached", "digest", id, "signers", len(p.Signatures))
		}
		p.Status = Satisfied
	}
	if err := a.bucket.Put(db, []byte(id), p); err != nil {
		return AggregateState{}, errors.Wrap(err, "save proposal")
	}
	return p.State(), nil
}

// Assemble returns the signed event of a proposal that collected enough
// signatures. ErrThresholdNotMet is returned otherwise. Assembling is
// repeatable.
func (a *Aggregator) Assemble(db gkel.KVStore, id crypto.Digest) (*kel.SignedEvent, error) {
	p, err := a.collect(db, id)
	if err != nil {
		return nil, err
	}
	if p.Event == nil {
		return nil, errors.Wrapf(errors.ErrHuman, "proposal %s is not an event, use Collect", id)
	}
	return &kel.SignedEvent{
		Event:      p.Event,
		Signatures: append([]kel.Signature(nil), p.Signatures...),
	}, nil
}

// Collect returns the signatures of a proposal that collected enough of
// them. ErrThresholdNotMet is returned otherwise.
func (a *Aggregator) Collect(db gkel.KVStore, id crypto.Digest) ([]kel.Signature, error) {
	p, err := a.collect(db, id)
	if err != nil {
		return nil, err
	}
	return append([]kel.Signature(nil), p.Signatures...), nil
}

func (a *Aggregator) collect(db gkel.KVStore, id crypto.Digest) (*Proposal, error) {
	p, err := a.Get(db, id)
	if err != nil {
		return nil, err
	}
	if !p.IsSatisfied() {
		return nil, errors.Wrapf(errors.ErrThresholdNotMet, "signers %v of %d keys, threshold %s", p.Signers(), len(p.Keys), p.Threshold)
	}
	if p.Status != Assembled {
		p.Status = Assembled
		if err := a.bucket.Put(db, []byte(id), p); err != nil {
			return nil, errors.Wrap(err, "save proposal")
		}
	}
	return p, nil
}

// Verify checks that given signatures are valid signatures of distinct keys
// over given digest and that they meet the threshold. Invalid signatures
// are reported, not skipped.
func Verify(keys []crypto.PublicKey, threshold gkel.Threshold, d crypto.Digest, sigs []kel.Signature) error {
	signers := make([]int, 0, len(sigs))
	var errs error
	for _, s := range sigs {
		switch {
		case s.Digest != d:
			errs = errors.Append(errs, errors.Wrapf(errors.ErrSignatureMismatch, "index %d", s.Index))
		case s.Index < 0 || s.Index >= len(keys):
			errs = errors.Append(errs, errors.Wrapf(errors.ErrInvalidSignature, "no key at index %d", s.Index))
		case !s.Verify(keys[s.Index], d):
			errs = errors.Append(errs, errors.Wrapf(errors.ErrInvalidSignature, "index %d", s.Index))
		default:
			signers = append(signers, s.Index)
		}
	}
	if errs != nil {
		return errs
	}
	if !threshold.Satisfied(len(keys), signers) {
		return errors.Wrapf(errors.ErrThresholdNotMet, "signers %v of %d keys, threshold %s", signers, len(keys), threshold)
	}
	return nil
}
