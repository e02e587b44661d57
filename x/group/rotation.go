package group

import (
	"context"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/mailbox"
	"golang.org/x/sync/errgroup"
)

// RotateArgs configures a group rotation.
type RotateArgs struct {
	// NextThreshold is the threshold the following rotation must meet.
	// It defaults to the currently committed next threshold.
	NextThreshold gkel.Threshold
}

// Rotate proposes a rotation of a confirmed group. Every member must have
// rotated its individual key first: the new group keys are the member keys
// that match the current group commitments, the new commitments are the
// next keys of the members.
//
// ErrNotYetVisible is returned while the individual rotation of a member is
// not visible to this member.
func (c *Coordinator) Rotate(ctx context.Context, prefix string, args RotateArgs) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, state, err := c.confirmed(prefix)
	if err != nil {
		return nil, err
	}
	if g.Phase != Confirmed {
		return nil, errors.Wrapf(errors.ErrProposalPending, "group %s, proposal %s", short(prefix), short(string(g.Pending)))
	}
	keys, nexts, seqs, err := c.reconcile(ctx, g, state)
	if err != nil {
		return nil, err
	}
	nt := args.NextThreshold
	if nt.IsZero() {
		nt = state.NextThreshold
	}
	if err := nt.Validate(len(nexts)); err != nil {
		return nil, errors.Wrap(err, "next threshold")
	}
	ev, err := kel.Rotate(state, kel.RotationArgs{
		Keys:          keys,
		NextKeys:      nexts,
		NextThreshold: nt,
		Algorithm:     c.algorithm(state.Digest),
	})
	if err != nil {
		return nil, errors.Wrap(err, "rotation")
	}

	g.PendingSeqs = seqs
	x := &Exchange{
		Route: mailbox.RouteRotation,
		Group: prefix,
		Smids: g.Members,
		Rmids: g.Members,
		Seqs:  seqs,
		Event: ev,
	}
	c.logger.Info("rotation proposed", "group", short(prefix), "sn", ev.Sequence, "seqs", seqs)
	return c.start(ctx, g, x, c.proposeEvent(ev, ev.Keys, *ev.Threshold), keys[g.Index])
}

// reconcile queries the latest key state of every member and returns,
// per member, the first key established after the current group keys that
// matches the group commitment, the next key of that establishment and
// its sequence number.
func (c *Coordinator) reconcile(ctx context.Context, g *Group, state kel.State) ([]crypto.PublicKey, []crypto.Digest, []uint64, error) {
	if len(state.NextKeys) != len(g.Members) {
		return nil, nil, nil, errors.Wrapf(errors.ErrState, "%d commitments for %d members", len(state.NextKeys), len(g.Members))
	}
	keys := make([]crypto.PublicKey, len(g.Members))
	nexts := make([]crypto.Digest, len(g.Members))
	seqs := make([]uint64, len(g.Members))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range g.Members {
		i := i
		eg.Go(func() error {
			m := g.Members[i]
			snap, err := c.deps.States.Refresh(ctx, m, g.MemberSeqs[i]+1)
			if err != nil {
				return errors.Wrapf(err, "member %s did not rotate", short(m))
			}
			for seq := g.MemberSeqs[i] + 1; seq <= snap.State.Sequence; seq++ {
				s, err := snap.StateAt(seq)
				if err != nil {
					return errors.Wrapf(err, "member %s", short(m))
				}
				if s.Sequence != s.Establishment || len(s.Keys) != 1 || len(s.NextKeys) != 1 {
					continue
				}
				if state.NextKeys[i].Matches([]byte(s.Keys[0])) {
					keys[i], nexts[i], seqs[i] = s.Keys[0], s.NextKeys[0], seq
					return nil
				}
			}
			return errors.Wrapf(errors.ErrNotYetVisible, "member %s has no key matching its commitment", short(m))
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return keys, nexts, seqs, nil
}

// JoinRotation joins the rotation proposed by given notification. The
// rosters of the proposal must equal the group membership. Unless
// TrustProposer is set, the member keys the proposal refers to must match
// the group commitments and the rebuilt rotation must have the proposed
// digest.
func (c *Coordinator) JoinRotation(ctx context.Context, n *mailbox.Notification) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, g, err := c.admitMember(n, mailbox.RouteRotation)
	if err != nil {
		return nil, err
	}
	ev := x.Event
	if ev == nil || !ev.Type.IsRotation() {
		return nil, errors.Wrap(errors.ErrInput, "not a rotation")
	}
	if s, err := c.joined(ctx, n, x); err != nil || s != nil {
		return s, err
	}
	_, state, err := c.confirmed(g.Prefix)
	if err != nil {
		return nil, err
	}
	if err := c.checkIdle(g, ev); err != nil {
		return nil, err
	}
	if err := follows(ev, state); err != nil {
		return nil, err
	}
	if len(x.Seqs) != len(g.Members) || len(ev.Keys) != len(g.Members) {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "%d keys and %d sequence numbers for %d members", len(ev.Keys), len(x.Seqs), len(g.Members))
	}
	for i, seq := range x.Seqs {
		if seq <= g.MemberSeqs[i] {
			return nil, errors.Wrapf(errors.ErrSequenceMismatch, "member %s at %d, group keys from %d", short(g.Members[i]), seq, g.MemberSeqs[i])
		}
	}
	if !c.conf.TrustProposer {
		if err := c.recomputeRotation(ctx, g, state, x); err != nil {
			return nil, err
		}
	}
	key := ev.Keys[g.Index]
	if !c.deps.Habitat.Keeper().Has(key) {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "key at position %d is not held by %s", g.Index, short(c.self))
	}

	g.PendingSeqs = x.Seqs
	s, err := c.start(ctx, g, x, c.proposeEvent(ev, ev.Keys, *ev.Threshold), key)
	if err != nil {
		return nil, err
	}
	c.logger.Info("rotation joined", "group", short(g.Prefix), "sn", ev.Sequence, "proposer", short(n.Source))
	return s, c.deps.Mailbox.MarkRead(ctx, n.ID)
}

func (c *Coordinator) recomputeRotation(ctx context.Context, g *Group, state kel.State, x *Exchange) error {
	states, err := c.memberStates(ctx, g.Members, x.Seqs)
	if err != nil {
		return errors.Wrap(err, "member key states")
	}
	keys, nexts, err := memberKeys(g.Members, states)
	if err != nil {
		return err
	}
	for i, k := range keys {
		if !state.NextKeys[i].Matches([]byte(k)) {
			return errors.Wrapf(errors.ErrCommitmentMismatch, "key of member %s at %d", short(g.Members[i]), x.Seqs[i])
		}
	}
	ev := x.Event
	mine, err := kel.Rotate(state, kel.RotationArgs{
		Keys:          keys,
		NextKeys:      nexts,
		NextThreshold: deref(ev.NextThreshold),
		Anchors:       ev.Anchors,
		Algorithm:     c.algorithm(ev.Digest),
	})
	if err != nil {
		return errors.Wrap(err, "recompute rotation")
	}
	if mine.Digest != ev.Digest {
		return errors.Wrapf(errors.ErrDigestMismatch, "proposed %s, computed %s", ev.Digest, mine.Digest)
	}
	return nil
}
