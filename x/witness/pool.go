package witness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/aggregate"
	"github.com/iov-one/gkel/x/kel"
)

// Pool is an in-process witness network. All witnesses of the pool share one
// validated log. A witness receipts the events of every identifier that
// lists it, unless it is offline. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	db        *store.MemDB
	log       *kel.Log
	witnesses map[string]bool
	offline   map[string]bool
	delay     time.Duration
	now       func() time.Time
	pending   []pendingEvent
	escrow    []*kel.SignedEvent
	logger    gkel.Logger
}

type pendingEvent struct {
	event     *kel.SignedEvent
	visibleAt time.Time
}

var _ Network = (*Pool)(nil)

// NewPool returns a pool of witnesses with given identifiers. A submitted
// event becomes visible after given propagation delay.
func NewPool(witnesses []string, delay time.Duration, logger gkel.Logger) *Pool {
	p := &Pool{
		db:        store.MemStore(),
		log:       kel.NewLog(),
		witnesses: make(map[string]bool, len(witnesses)),
		offline:   make(map[string]bool),
		delay:     delay,
		now:       time.Now,
		logger:    gkel.LoggerOrDefault(logger).With("module", "witness"),
	}
	for _, w := range witnesses {
		p.witnesses[w] = true
	}
	return p
}

// SetOffline changes the availability of a witness. An offline witness
// keeps validating events but does not receipt them.
func (p *Pool) SetOffline(witness string, offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline[witness] = offline
}

// Escrowed returns the digests of events waiting for a delegator anchor.
func (p *Pool) Escrowed() []crypto.Digest {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]crypto.Digest, len(p.escrow))
	for i, se := range p.escrow {
		res[i] = se.Event.Digest
	}
	return res
}

// Submit implements Network.
func (p *Pool) Submit(ctx context.Context, se *kel.SignedEvent) error {
	if se == nil || se.Event == nil {
		return errors.Wrap(errors.ErrEmpty, "event")
	}
	if err := se.Validate(); err != nil {
		return errors.Wrap(err, "invalid event")
	}
	if err := kel.VerifyDigest(se.Event); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.propagate()
	if p.delay > 0 {
		p.pending = append(p.pending, pendingEvent{event: se, visibleAt: p.now().Add(p.delay)})
		return nil
	}
	return p.accept(se)
}

// Query implements Network.
func (p *Pool) Query(ctx context.Context, prefix string, minSeq uint64) (*kel.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.propagate()

	snap, err := p.log.Snapshot(p.db, prefix)
	switch {
	case errors.ErrNotFound.Is(err):
		return nil, errors.Wrapf(errors.ErrNotYetVisible, "unknown identifier %s", prefix)
	case err != nil:
		return nil, err
	}
	if snap.State.Sequence < minSeq {
		return nil, errors.Wrapf(errors.ErrNotYetVisible, "%s is at sequence %d, want %d", prefix, snap.State.Sequence, minSeq)
	}
	snap.Receipts = p.receipts(snap.State, snap.State.Sequence, snap.State.Digest)
	return snap, nil
}

// Receipts implements Network.
func (p *Pool) Receipts(ctx context.Context, prefix string, seq uint64) ([]kel.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.propagate()

	se, err := p.log.Event(p.db, prefix, seq)
	switch {
	case errors.ErrNotFound.Is(err):
		return nil, errors.Wrapf(errors.ErrNotYetVisible, "event %d of %s", seq, prefix)
	case err != nil:
		return nil, err
	}
	s, err := p.log.State(p.db, prefix)
	if err != nil {
		return nil, err
	}
	return p.receipts(s, seq, se.Event.Digest), nil
}

func (p *Pool) receipts(s kel.State, seq uint64, d crypto.Digest) []kel.Receipt {
	var res []kel.Receipt
	for _, w := range s.Witnesses {
		if p.offline[w] {
			continue
		}
		res = append(res, kel.Receipt{Witness: w, Prefix: s.Prefix, Sequence: seq, Digest: d})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Witness < res[j].Witness })
	return res
}

// propagate accepts all pending events whose propagation delay elapsed.
func (p *Pool) propagate() {
	now := p.now()
	rest := p.pending[:0]
	for _, pe := range p.pending {
		if pe.visibleAt.After(now) {
			rest = append(rest, pe)
			continue
		}
		if err := p.accept(pe.event); err != nil && !errors.ErrAnchorNotYetVisible.Is(err) {
			p.logger.Error("event dropped", "prefix", pe.event.Event.Prefix, "sn", pe.event.Event.Sequence, "err", err)
		}
	}
	p.pending = rest
}

// accept validates given event against the log and appends it. Delegated
// events without a visible anchor are escrowed.
func (p *Pool) accept(se *kel.SignedEvent) error {
	if known, err := p.known(se.Event); err != nil || known {
		return err
	}
	if err := p.validate(se); err != nil {
		if errors.ErrAnchorNotYetVisible.Is(err) {
			p.escrowEvent(se)
		}
		return err
	}
	if err := p.append(se); err != nil {
		return err
	}
	p.releaseEscrow()
	return nil
}

func (p *Pool) validate(se *kel.SignedEvent) error {
	ev := se.Event
	current, err := p.log.State(p.db, ev.Prefix)
	switch {
	case errors.ErrNotFound.Is(err):
		current = kel.State{}
	case err != nil:
		return err
	}
	if err := kel.Validate(ev, current); err != nil {
		return err
	}
	for _, w := range ev.Witnesses {
		if !p.witnesses[w] {
			return errors.Wrapf(errors.ErrInput, "unknown witness %q", w)
		}
	}

	keys, threshold, err := aggregate.SigningKeys(ev, current)
	if err != nil {
		return err
	}
	if err := aggregate.Verify(keys, threshold, ev.Digest, se.Signatures); err != nil {
		return errors.Wrapf(err, "signatures of %s at %d", ev.Prefix, ev.Sequence)
	}

	if ev.Type.IsDelegated() {
		delegator := ev.Delegator
		if ev.Type.IsRotation() {
			delegator = current.Delegator
		}
		if err := p.checkAnchor(delegator, kel.SealOf(ev)); err != nil {
			return err
		}
	}
	return nil
}

// known returns true if given event was already accepted. A different
// event at the same sequence is a fork and is refused.
func (p *Pool) known(ev *kel.Event) (bool, error) {
	se, err := p.log.Event(p.db, ev.Prefix, ev.Sequence)
	switch {
	case errors.ErrNotFound.Is(err):
		return false, nil
	case err != nil:
		return false, err
	}
	if se.Event.Digest != ev.Digest {
		return false, errors.Wrapf(errors.ErrDigestMismatch, "%s already has event %s at %d", ev.Prefix, se.Event.Digest, ev.Sequence)
	}
	return true, nil
}

func (p *Pool) checkAnchor(delegator string, seal kel.Seal) error {
	snap, err := p.log.Snapshot(p.db, delegator)
	switch {
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(errors.ErrAnchorNotYetVisible, "unknown delegator %s", delegator)
	case err != nil:
		return err
	}
	if !snap.Anchors(seal) {
		return errors.Wrapf(errors.ErrAnchorNotYetVisible, "delegator %s does not anchor %s", delegator, seal)
	}
	return nil
}

func (p *Pool) append(se *kel.SignedEvent) error {
	cache := p.db.CacheWrap()
	s, err := p.log.Append(cache, se)
	if err != nil {
		cache.Discard()
		return err
	}
	if err := cache.Write(); err != nil {
		return errors.Wrap(err, "write log")
	}
	p.logger.Debug("event accepted", "prefix", s.Prefix, "type", se.Event.Type, "sn", s.Sequence, "digest", s.Digest)
	return nil
}

func (p *Pool) escrowEvent(se *kel.SignedEvent) {
	for _, e := range p.escrow {
		if e.Event.Digest == se.Event.Digest {
			return
		}
	}
	p.logger.Info("event escrowed", "prefix", se.Event.Prefix, "sn", se.Event.Sequence, "delegator", se.Event.Delegator)
	p.escrow = append(p.escrow, se)
}

// releaseEscrow accepts escrowed events until no more progress is made.
func (p *Pool) releaseEscrow() {
	for progress := true; progress; {
		progress = false
		rest := p.escrow[:0]
		for _, se := range p.escrow {
			if known, err := p.known(se.Event); err != nil || known {
				continue
			}
			err := p.validate(se)
			if errors.ErrAnchorNotYetVisible.Is(err) {
				rest = append(rest, se)
				continue
			}
			if err == nil {
				err = p.append(se)
			}
			if err != nil {
				p.logger.Error("escrowed event dropped", "prefix", se.Event.Prefix, "sn", se.Event.Sequence, "err", err)
				continue
			}
			progress = true
		}
		p.escrow = rest
	}
}
