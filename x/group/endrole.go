package group

import (
	"context"
	"encoding/json"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/mailbox"
)

// AuthorizeEndRole proposes a reply that authorizes an endpoint for a role
// of a confirmed group. The reply is published once the group threshold
// signed it.
func (c *Coordinator) AuthorizeEndRole(ctx context.Context, prefix, role, eid string) (*Session, error) {
	if c.deps.Registry == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "registry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	g, state, err := c.confirmed(prefix)
	if err != nil {
		return nil, err
	}
	rpy, err := discovery.NewReply(prefix, role, eid, gkel.Now(), c.algorithm(state.Digest))
	if err != nil {
		return nil, err
	}
	x := &Exchange{
		Route: mailbox.RouteReply,
		Group: prefix,
		Smids: g.Members,
		Reply: rpy,
	}
	c.logger.Info("end role proposed", "group", short(prefix), "role", role, "eid", eid)
	return c.start(ctx, g, x, c.proposeReply(rpy, state), state.Keys[g.Index])
}

// JoinEndRole joins the end role authorization proposed by given
// notification. The reply digest is recomputed unless TrustProposer is
// set; the timestamp chosen by the proposer is part of it.
func (c *Coordinator) JoinEndRole(ctx context.Context, n *mailbox.Notification) (*Session, error) {
	if c.deps.Registry == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "registry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	x, g, err := c.admitMember(n, mailbox.RouteReply)
	if err != nil {
		return nil, err
	}
	if x.Reply == nil {
		return nil, errors.Wrap(errors.ErrInput, "not a reply")
	}
	if s, err := c.joined(ctx, n, x); err != nil || s != nil {
		return s, err
	}
	_, state, err := c.confirmed(g.Prefix)
	if err != nil {
		return nil, err
	}
	if !c.conf.TrustProposer {
		if err := x.Reply.VerifyDigest(); err != nil {
			return nil, err
		}
	}
	s, err := c.start(ctx, g, x, c.proposeReply(x.Reply, state), state.Keys[g.Index])
	if err != nil {
		return nil, err
	}
	return s, c.deps.Mailbox.MarkRead(ctx, n.ID)
}

func (c *Coordinator) proposeReply(rpy *discovery.Reply, state kel.State) func(gkel.KVStore) error {
	return func(db gkel.KVStore) error {
		raw, err := json.Marshal(rpy)
		if err != nil {
			return errors.Wrapf(errors.ErrInput, "serialize reply: %s", err)
		}
		_, err = c.agg.ProposePayload(db, rpy.Digest, raw, state.Keys, state.Threshold)
		return err
	}
}
