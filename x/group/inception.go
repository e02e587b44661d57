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

// Incept proposes a new group. The keys of the group are the current keys
// of the members and the next key commitments are those of the members, in
// the order of spec.Members. This member signs the inception and sends it
// to all other members.
func (c *Coordinator) Incept(ctx context.Context, spec Spec) (*Session, error) {
	if err := spec.Validate(c.self); err != nil {
		return nil, errors.Wrap(err, "group spec")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch _, err := c.ByName(spec.Name); {
	case err == nil:
		return nil, errors.Wrapf(errors.ErrDuplicate, "group %q", spec.Name)
	case !errors.ErrNotFound.Is(err):
		return nil, err
	}

	states, seqs, err := c.latestStates(ctx, spec.Members)
	if err != nil {
		return nil, errors.Wrap(err, "member key states")
	}
	keys, nexts, err := memberKeys(spec.Members, states)
	if err != nil {
		return nil, err
	}
	nt := spec.NextThreshold
	if nt.IsZero() {
		nt = spec.Threshold
	}
	witnesses, toad := spec.Witnesses, spec.WitnessThreshold
	if len(witnesses) == 0 {
		witnesses, toad = c.conf.Witnesses, c.conf.WitnessThreshold
	}
	ev, err := kel.Incept(kel.InceptionArgs{
		Keys:             keys,
		Threshold:        spec.Threshold,
		NextKeys:         nexts,
		NextThreshold:    nt,
		Witnesses:        witnesses,
		WitnessThreshold: toad,
		Delegator:        spec.Delegator,
		Algorithm:        c.algorithm(""),
	})
	if err != nil {
		return nil, errors.Wrap(err, "inception")
	}
	if ok, err := c.groups.Has(c.db, []byte(ev.Prefix)); err != nil {
		return nil, err
	} else if ok {
		return nil, errors.Wrapf(errors.ErrDuplicate, "group %s", short(ev.Prefix))
	}

	index := indexOf(spec.Members, c.self)
	g := &Group{
		Prefix:     ev.Prefix,
		Name:       spec.Name,
		Members:    spec.Members,
		Self:       c.self,
		Index:      index,
		MemberSeqs: seqs,
	}
	x := &Exchange{
		Route: mailbox.RouteInception,
		Group: ev.Prefix,
		Smids: spec.Members,
		Rmids: spec.Members,
		Seqs:  seqs,
		Event: ev,
	}
	c.logger.Info("group incepted", "name", spec.Name, "prefix", short(ev.Prefix), "members", len(spec.Members), "threshold", spec.Threshold)
	return c.start(ctx, g, x, c.proposeEvent(ev, keys, spec.Threshold), keys[index])
}

// JoinInception joins the inception proposed by given notification and
// stores the group under given local name.
//
// The prefix is recomputed from the member key states the proposal refers
// to and ErrDivergentPrefix is returned if it differs. With TrustProposer
// set only the roster is checked. Joining the same proposal again only
// adds the signatures the notification carries.
func (c *Coordinator) JoinInception(ctx context.Context, n *mailbox.Notification, name string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, err := c.admit(n, mailbox.RouteInception)
	if err != nil {
		return nil, err
	}
	ev := x.Event
	if ev == nil || !ev.Type.IsInception() {
		return nil, errors.Wrap(errors.ErrInput, "not an inception")
	}
	if s, err := c.joined(ctx, n, x); err != nil || s != nil {
		return s, err
	}
	switch g, err := c.ByName(name); {
	case err == nil:
		return nil, errors.Wrapf(errors.ErrDuplicate, "group %q is %s", name, short(g.Prefix))
	case !errors.ErrNotFound.Is(err):
		return nil, err
	}
	if len(x.Seqs) != len(x.Smids) {
		return nil, errors.Wrapf(errors.ErrInput, "%d sequence numbers for %d signers", len(x.Seqs), len(x.Smids))
	}
	if len(ev.Keys) != len(x.Smids) {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "%d keys for %d signers", len(ev.Keys), len(x.Smids))
	}

	if !c.conf.TrustProposer {
		if err := c.recomputeInception(ctx, x); err != nil {
			return nil, err
		}
	}
	index := indexOf(x.Smids, c.self)
	key := ev.Keys[index]
	if !c.deps.Habitat.Keeper().Has(key) {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "key at position %d is not held by %s", index, short(c.self))
	}

	g := &Group{
		Prefix:     ev.Prefix,
		Name:       name,
		Members:    x.Smids,
		Self:       c.self,
		Index:      index,
		MemberSeqs: x.Seqs,
	}
	s, err := c.start(ctx, g, x, c.proposeEvent(ev, ev.Keys, *ev.Threshold), key)
	if err != nil {
		return nil, err
	}
	c.logger.Info("group inception joined", "name", name, "prefix", short(ev.Prefix), "proposer", short(n.Source))
	return s, c.deps.Mailbox.MarkRead(ctx, n.ID)
}

// recomputeInception builds the inception from the member key states the
// exchange refers to and compares the prefix.
func (c *Coordinator) recomputeInception(ctx context.Context, x *Exchange) error {
	states, err := c.memberStates(ctx, x.Smids, x.Seqs)
	if err != nil {
		return errors.Wrap(err, "member key states")
	}
	keys, nexts, err := memberKeys(x.Smids, states)
	if err != nil {
		return err
	}
	ev := x.Event
	mine, err := kel.Incept(kel.InceptionArgs{
		Keys:             keys,
		Threshold:        deref(ev.Threshold),
		NextKeys:         nexts,
		NextThreshold:    deref(ev.NextThreshold),
		Witnesses:        ev.Witnesses,
		WitnessThreshold: ev.WitnessThreshold,
		Delegator:        ev.Delegator,
		Anchors:          ev.Anchors,
		Algorithm:        c.algorithm(ev.Digest),
	})
	if err != nil {
		return errors.Wrap(err, "recompute inception")
	}
	if mine.Prefix != ev.Prefix {
		c.logger.Error("divergent group prefix", "proposed", ev.Prefix, "computed", mine.Prefix)
		return errors.Wrapf(errors.ErrDivergentPrefix, "proposed %s, computed %s", ev.Prefix, mine.Prefix)
	}
	return nil
}

func (c *Coordinator) proposeEvent(ev *kel.Event, keys []crypto.PublicKey, threshold gkel.Threshold) func(gkel.KVStore) error {
	return func(db gkel.KVStore) error {
		_, err := c.agg.Propose(db, ev, keys, threshold)
		return err
	}
}

// memberStates returns the key state of every member right after given
// sequence numbers. The states are fetched concurrently.
func (c *Coordinator) memberStates(ctx context.Context, members []string, seqs []uint64) ([]kel.State, error) {
	if len(seqs) != len(members) {
		return nil, errors.Wrapf(errors.ErrInput, "%d sequence numbers for %d members", len(seqs), len(members))
	}
	states := make([]kel.State, len(members))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range members {
		i := i
		eg.Go(func() error {
			snap, err := c.deps.States.Get(ctx, members[i], seqs[i])
			if err != nil {
				return errors.Wrapf(err, "member %s", short(members[i]))
			}
			s, err := snap.StateAt(seqs[i])
			if err != nil {
				return errors.Wrapf(err, "member %s", short(members[i]))
			}
			states[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// latestStates queries the latest key state of every member.
func (c *Coordinator) latestStates(ctx context.Context, members []string) ([]kel.State, []uint64, error) {
	states := make([]kel.State, len(members))
	eg, ctx := errgroup.WithContext(ctx)
	for i := range members {
		i := i
		eg.Go(func() error {
			snap, err := c.deps.States.Refresh(ctx, members[i], 0)
			if err != nil {
				return errors.Wrapf(err, "member %s", short(members[i]))
			}
			states[i] = snap.State
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	seqs := make([]uint64, len(states))
	for i, s := range states {
		seqs[i] = s.Sequence
	}
	return states, seqs, nil
}

// memberKeys returns the signing key and the next key commitment of every
// member. Members must be single key identifiers.
func memberKeys(members []string, states []kel.State) ([]crypto.PublicKey, []crypto.Digest, error) {
	keys := make([]crypto.PublicKey, len(states))
	nexts := make([]crypto.Digest, len(states))
	for i, s := range states {
		if len(s.Keys) != 1 || len(s.NextKeys) != 1 {
			return nil, nil, errors.Wrapf(errors.ErrState, "member %s must have exactly one key and one next key", short(members[i]))
		}
		keys[i] = s.Keys[0]
		nexts[i] = s.NextKeys[0]
	}
	return keys, nexts, nil
}

func deref(t *gkel.Threshold) gkel.Threshold {
	if t == nil {
		return gkel.Threshold{}
	}
	return *t
}
