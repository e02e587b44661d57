package group

import (
	"context"

	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/mailbox"
)

// Anchor proposes an interaction of a confirmed group that anchors given
// seals. A delegating group uses it to approve the events of its
// delegates.
func (c *Coordinator) Anchor(ctx context.Context, prefix string, seals []kel.Seal) (*Session, error) {
	if len(seals) == 0 {
		return nil, errors.Wrap(errors.ErrEmpty, "seals")
	}
	for i, s := range seals {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "seal %d", i)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, state, err := c.confirmed(prefix)
	if err != nil {
		return nil, err
	}
	ev, err := kel.Interact(state, seals, c.algorithm(state.Digest))
	if err != nil {
		return nil, errors.Wrap(err, "interaction")
	}
	if err := c.checkIdle(g, ev); err != nil {
		return nil, err
	}
	x := &Exchange{
		Route: mailbox.RouteInteraction,
		Group: prefix,
		Smids: g.Members,
		Event: ev,
	}
	c.logger.Info("anchor proposed", "group", short(prefix), "sn", ev.Sequence, "seals", len(seals))
	return c.start(ctx, g, x, c.proposeEvent(ev, state.Keys, state.Threshold), state.Keys[g.Index])
}

// JoinInteraction joins the interaction proposed by given notification.
// The interaction is rebuilt from the confirmed group state and the
// proposed seals unless TrustProposer is set.
func (c *Coordinator) JoinInteraction(ctx context.Context, n *mailbox.Notification) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, g, err := c.admitMember(n, mailbox.RouteInteraction)
	if err != nil {
		return nil, err
	}
	ev := x.Event
	if ev == nil || ev.Type != kel.Interaction {
		return nil, errors.Wrap(errors.ErrInput, "not an interaction")
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
	if !c.conf.TrustProposer {
		mine, err := kel.Interact(state, ev.Anchors, c.algorithm(ev.Digest))
		if err != nil {
			return nil, errors.Wrap(err, "recompute interaction")
		}
		if mine.Digest != ev.Digest {
			return nil, errors.Wrapf(errors.ErrDigestMismatch, "proposed %s, computed %s", ev.Digest, mine.Digest)
		}
	}
	s, err := c.start(ctx, g, x, c.proposeEvent(ev, state.Keys, state.Threshold), state.Keys[g.Index])
	if err != nil {
		return nil, err
	}
	return s, c.deps.Mailbox.MarkRead(ctx, n.ID)
}

// confirmed returns the record and the key state of a group whose
// inception is confirmed. A group whose inception is still pending is a
// wait condition.
func (c *Coordinator) confirmed(prefix string) (*Group, kel.State, error) {
	g, err := c.Group(prefix)
	if err != nil {
		return nil, kel.State{}, err
	}
	state, err := c.log.State(c.db, prefix)
	switch {
	case errors.ErrNotFound.Is(err):
		return nil, kel.State{}, errors.Wrapf(errors.ErrNotYetVisible, "inception of %s not confirmed", short(prefix))
	case err != nil:
		return nil, kel.State{}, err
	}
	if g.Index >= len(state.Keys) {
		return nil, kel.State{}, errors.Wrapf(errors.ErrState, "no key at position %d", g.Index)
	}
	return g, state, nil
}
