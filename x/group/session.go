package group

import (
	"context"

	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/operation"
)

// Session is the operation of one proposal as seen by one member. Each
// poll moves the group through its phases as far as possible:
//
//	pending   signatures are collected from the mailbox
//	quorum    the assembled event was submitted to the witnesses
//	anchored  the delegator anchored the event (delegated events only)
//	confirmed witnesses receipted the event and a key state query agrees
//
// A session completes with the Convergence of the confirmed event, or with
// the endpoint ids of an end role authorization.
type Session struct {
	c      *Coordinator
	name   string
	route  string
	prefix string
	digest crypto.Digest
	event  *kel.Event
	reply  *discovery.Reply

	anchorPolls int
	rejected    error
	withdrawn   bool
}

var _ operation.Operation = (*Session)(nil)

// Name implements operation.Operation.
func (s *Session) Name() string {
	return s.name
}

// Prefix returns the prefix of the group.
func (s *Session) Prefix() string {
	return s.prefix
}

// Digest returns the digest of the proposal.
func (s *Session) Digest() crypto.Digest {
	return s.digest
}

// Seal returns the seal a delegator must anchor to approve the proposed
// event.
func (s *Session) Seal() kel.Seal {
	if s.event == nil {
		return kel.Seal{}
	}
	return kel.SealOf(s.event)
}

// Rejected returns the signature contributions that were rejected so far.
func (s *Session) Rejected() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.rejected
}

func (s *Session) reject(err error) {
	s.rejected = errors.Append(s.rejected, err)
}

// Poll implements operation.Operation.
func (s *Session) Poll(ctx context.Context) (bool, interface{}, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.withdrawn {
		return false, nil, errors.Wrapf(errors.ErrState, "proposal %s was withdrawn", short(string(s.digest)))
	}
	if err := c.pump(ctx, s.route); err != nil {
		return false, nil, err
	}
	if s.reply != nil {
		return s.pollReply(ctx)
	}
	return s.pollEvent(ctx)
}

func (s *Session) pollEvent(ctx context.Context) (bool, interface{}, error) {
	c := s.c
	g, err := c.Group(s.prefix)
	if err != nil {
		return false, nil, err
	}
	done, err := c.applied(&Exchange{Event: s.event})
	if err != nil {
		return false, nil, err
	}
	if done {
		return true, s.convergence(g), nil
	}
	if g.Pending != s.digest {
		return false, nil, errors.Wrapf(errors.ErrState, "group %s moved to proposal %s", short(s.prefix), short(string(g.Pending)))
	}

	switch g.Phase {
	case ProposalPending:
		se, err := c.agg.Assemble(c.db, s.digest)
		if err != nil {
			return false, nil, err
		}
		if err := c.deps.Network.Submit(ctx, se); err != nil && !errors.IsRecoverable(err) {
			return false, nil, errors.Wrap(err, "submit to witnesses")
		}
		if err := c.setPhase(g, QuorumReached); err != nil {
			return false, nil, err
		}
		fallthrough
	case QuorumReached:
		if s.event.Type.IsDelegated() {
			if err := s.checkAnchor(ctx); err != nil {
				return false, nil, err
			}
			if err := c.setPhase(g, Anchored); err != nil {
				return false, nil, err
			}
		}
		fallthrough
	case Anchored:
		return s.confirm(ctx, g)
	}
	return false, nil, errors.Wrapf(errors.ErrState, "unexpected phase %s", g.Phase)
}

// checkAnchor queries the delegator. Missing anchors are a wait condition
// until the retry budget is exhausted.
func (s *Session) checkAnchor(ctx context.Context) error {
	c := s.c
	delegator := s.event.Delegator
	if s.event.Type.IsRotation() {
		state, err := c.log.State(c.db, s.prefix)
		if err != nil {
			return err
		}
		delegator = state.Delegator
	}
	seal := kel.SealOf(s.event)
	snap, err := c.deps.States.Refresh(ctx, delegator, 0)
	if err != nil && !errors.IsRecoverable(err) {
		return errors.Wrap(err, "delegator key state")
	}
	if err == nil && snap.Anchors(seal) {
		c.logger.Info("anchor visible", "group", short(s.prefix), "delegator", short(delegator), "sn", snap.State.Sequence)
		return nil
	}
	s.anchorPolls++
	err = errors.Wrapf(errors.ErrAnchorNotYetVisible, "delegator %s, %d of %d polls", short(delegator), s.anchorPolls, c.conf.AnchorRetries)
	if s.anchorPolls >= c.conf.AnchorRetries {
		return operation.Final(err)
	}
	return err
}

// confirm waits for the witness receipts and for a key state query that
// agrees on the event, then appends the event to the member log.
func (s *Session) confirm(ctx context.Context, g *Group) (bool, interface{}, error) {
	c := s.c
	seq := s.event.Sequence
	toad := s.event.WitnessThreshold
	if !s.event.Type.IsInception() {
		state, err := c.log.State(c.db, s.prefix)
		if err != nil {
			return false, nil, err
		}
		toad = state.WitnessThreshold
	}
	receipts, err := c.deps.Network.Receipts(ctx, s.prefix, seq)
	if err != nil {
		return false, nil, err
	}
	var n uint32
	for _, r := range receipts {
		if r.Digest == s.digest {
			n++
		}
	}
	if n < toad {
		return false, nil, errors.Wrapf(errors.ErrNotYetVisible, "%d of %d receipts", n, toad)
	}
	snap, err := c.deps.States.Refresh(ctx, s.prefix, seq)
	if err != nil {
		return false, nil, err
	}
	remote, err := snap.StateAt(seq)
	if err != nil {
		return false, nil, err
	}
	if remote.Digest != s.digest {
		return false, nil, errors.Wrapf(errors.ErrDigestMismatch, "witnesses accepted %s at %d", remote.Digest, seq)
	}

	cache := c.db.CacheWrap()
	se, err := c.agg.Assemble(cache, s.digest)
	if err != nil {
		cache.Discard()
		return false, nil, err
	}
	if _, err := c.log.Append(cache, se); err != nil {
		cache.Discard()
		return false, nil, err
	}
	g.Phase = Confirmed
	g.Pending = ""
	if s.event.Type.IsRotation() {
		g.MemberSeqs = g.PendingSeqs
		g.PendingSeqs = nil
	}
	if err := c.groups.Put(cache, []byte(g.Prefix), g); err != nil {
		cache.Discard()
		return false, nil, err
	}
	if err := cache.Write(); err != nil {
		return false, nil, errors.Wrap(err, "write")
	}
	c.logger.Info("group event confirmed", "group", short(g.Prefix), "type", s.event.Type, "sn", seq, "digest", short(string(s.digest)))
	return true, s.convergence(g), nil
}

func (s *Session) pollReply(ctx context.Context) (bool, interface{}, error) {
	c := s.c
	sigs, err := c.agg.Collect(c.db, s.digest)
	if err != nil {
		return false, nil, err
	}
	if err := c.deps.Registry.Publish(ctx, &discovery.SignedReply{Reply: s.reply, Signatures: sigs}); err != nil {
		return false, nil, errors.Wrap(err, "publish reply")
	}
	eids, err := c.deps.Registry.Resolve(ctx, s.reply.Prefix, s.reply.Role)
	if err != nil {
		return false, nil, err
	}
	for _, eid := range eids {
		if eid == s.reply.EndpointID {
			return true, eids, nil
		}
	}
	return false, nil, errors.Wrapf(errors.ErrNotYetVisible, "%s not resolved", s.reply.EndpointID)
}

func (s *Session) convergence(g *Group) Convergence {
	return Convergence{Prefix: g.Prefix, Name: g.Name, Sequence: s.event.Sequence, Digest: s.digest}
}

func (c *Coordinator) setPhase(g *Group, p Phase) error {
	g.Phase = p
	if err := c.groups.Put(c.db, []byte(g.Prefix), g); err != nil {
		return errors.Wrapf(err, "phase %s", p)
	}
	c.logger.Debug("phase changed", "group", short(g.Prefix), "phase", p)
	return nil
}

// pump handles the unread notifications of a route. Notifications of
// proposals this member did not join are left unread, notifications that
// cannot be admitted are dropped.
func (c *Coordinator) pump(ctx context.Context, route string) error {
	ns, err := c.deps.Mailbox.List(ctx, route)
	if err != nil {
		return err
	}
	for i := range ns {
		n := &ns[i]
		err := c.process(ctx, n)
		switch {
		case err == nil, errors.ErrNotFound.Is(err):
		case errors.IsRecoverable(err):
			return err
		default:
			c.logger.Error("notification dropped", "route", route, "source", short(n.Source), "err", err)
			if err := c.deps.Mailbox.MarkRead(ctx, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
