package group

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gconf"
	"github.com/iov-one/gkel/orm"
	"github.com/iov-one/gkel/x/aggregate"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/identifier"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/keystate"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/iov-one/gkel/x/witness"
)

// Deps are the collaborators of a coordinator. All of them belong to the
// same member.
type Deps struct {
	Habitat  *identifier.Habitat
	Mailbox  *mailbox.Mailbox
	States   *keystate.Cache
	Network  witness.Network
	Registry discovery.Registry
}

// Coordinator runs the group protocols on behalf of one member. It is safe
// for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	db       gkel.CacheableKVStore
	conf     Config
	self     string
	deps     Deps
	agg      *aggregate.Aggregator
	log      *kel.Log
	groups   orm.ModelBucket
	logger   gkel.Logger
	sessions map[crypto.Digest]*Session
}

// NewCoordinator returns the coordinator of the member whose individual
// identifier prefix is self. The configuration is loaded from the member
// database and the default configuration is used when none was stored.
func NewCoordinator(db gkel.CacheableKVStore, self string, deps Deps, logger gkel.Logger) (*Coordinator, error) {
	if self == "" {
		return nil, errors.Wrap(errors.ErrEmpty, "member identifier")
	}
	if deps.Habitat == nil || deps.Mailbox == nil || deps.States == nil || deps.Network == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "dependencies")
	}
	conf := DefaultConfig()
	switch err := gconf.Load(db, PkgName, &conf); {
	case errors.ErrNotFound.Is(err):
		conf = DefaultConfig()
	case err != nil:
		return nil, errors.Wrap(err, "load configuration")
	}
	logger = gkel.LoggerOrDefault(logger).With("module", "group", "member", short(self))
	return &Coordinator{
		db:       db,
		conf:     conf,
		self:     self,
		deps:     deps,
		agg:      aggregate.NewAggregator(logger),
		log:      kel.NewLog(),
		groups:   orm.NewModelBucket("group", &Group{}),
		logger:   logger,
		sessions: make(map[crypto.Digest]*Session),
	}, nil
}

// Config returns the configuration in use.
func (c *Coordinator) Config() Config {
	return c.conf
}

// Self returns the individual identifier of the member.
func (c *Coordinator) Self() string {
	return c.self
}

// Group returns the record of a group.
func (c *Coordinator) Group(prefix string) (*Group, error) {
	var g Group
	if err := c.groups.One(c.db, []byte(prefix), &g); err != nil {
		return nil, errors.Wrapf(err, "group %s", short(prefix))
	}
	return &g, nil
}

// ByName returns the record of the group with given local name.
func (c *Coordinator) ByName(name string) (*Group, error) {
	var all []Group
	if _, err := c.groups.ByPrefix(c.db, nil, &all); err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "group %q", name)
}

// State returns the confirmed key state of a group.
func (c *Coordinator) State(prefix string) (kel.State, error) {
	return c.log.State(c.db, prefix)
}

// Convergence returns the convergence tuple of a group. ErrNotFound is
// returned until the inception is confirmed.
func (c *Coordinator) Convergence(prefix string) (Convergence, error) {
	g, err := c.Group(prefix)
	if err != nil {
		return Convergence{}, err
	}
	s, err := c.log.State(c.db, prefix)
	if err != nil {
		return Convergence{}, errors.Wrapf(err, "group %s not confirmed", short(prefix))
	}
	return Convergence{Prefix: g.Prefix, Name: g.Name, Sequence: s.Sequence, Digest: s.Digest}, nil
}

// Proposal returns the aggregation state of a proposal.
func (c *Coordinator) Proposal(d crypto.Digest) (*aggregate.Proposal, error) {
	return c.agg.Get(c.db, d)
}

// Session returns the session of a proposal this member started or
// joined.
func (c *Coordinator) Session(d crypto.Digest) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[d]
	return s, ok
}

// Process handles a notification that refers to a proposal this member
// already started or joined, or to an event that is already confirmed.
// Signatures are added and the notification is marked read. Handling the
// same notification again does not change any state.
//
// ErrNotFound is returned for an unknown proposal, which must be joined
// first. The notification is left unread in that case.
func (c *Coordinator) Process(ctx context.Context, n *mailbox.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(ctx, n)
}

func (c *Coordinator) process(ctx context.Context, n *mailbox.Notification) error {
	x, err := c.admit(n, n.Route)
	if err != nil {
		return err
	}
	done, err := c.applied(x)
	if err != nil {
		return err
	}
	if done {
		c.logger.Debug("notification of a confirmed event", "route", n.Route, "digest", short(string(x.Digest())))
		return c.deps.Mailbox.MarkRead(ctx, n.ID)
	}
	switch _, err := c.agg.Get(c.db, x.Digest()); {
	case errors.ErrNotFound.Is(err):
		return errors.Wrapf(errors.ErrNotFound, "proposal %s was not joined", short(string(x.Digest())))
	case err != nil:
		return err
	}
	return c.absorb(ctx, n, x)
}

// absorb adds the signatures carried by a notification to a known
// proposal and marks the notification read. Rejected signatures are
// recorded by the session of the proposal.
func (c *Coordinator) absorb(ctx context.Context, n *mailbox.Notification, x *Exchange) error {
	d := x.Digest()
	cache := c.db.CacheWrap()
	for _, sig := range x.Signatures {
		if _, err := c.agg.AddSignature(cache, d, sig); err != nil {
			if !errors.IsRejected(err) {
				cache.Discard()
				return err
			}
			if s, ok := c.sessions[d]; ok {
				s.reject(err)
			}
			c.logger.Error("signature rejected", "source", short(n.Source), "index", sig.Index, "err", err)
		}
	}
	if err := cache.Write(); err != nil {
		return errors.Wrap(err, "write")
	}
	return c.deps.Mailbox.MarkRead(ctx, n.ID)
}

// start sends a proposal with the signatures received so far and the
// signature of this member to the other members, then stores it. Nothing
// is stored when sending fails. Starting a proposal that this member
// already holds only adds the received signatures.
func (c *Coordinator) start(ctx context.Context, g *Group, x *Exchange, propose func(gkel.KVStore) error, signingKey crypto.PublicKey) (*Session, error) {
	d := x.Digest()
	s, ok := c.sessions[d]
	if !ok {
		s = c.newSession(g.Prefix, x)
	}

	cache := c.db.CacheWrap()
	if err := propose(cache); err != nil {
		cache.Discard()
		return nil, errors.Wrap(err, "propose")
	}
	for _, sig := range x.Signatures {
		if _, err := c.agg.AddSignature(cache, d, sig); err != nil {
			if !errors.IsRejected(err) {
				cache.Discard()
				return nil, err
			}
			s.reject(err)
		}
	}
	own, err := c.deps.Habitat.Sign(signingKey, g.Index, d)
	if err != nil {
		cache.Discard()
		return nil, errors.Wrap(err, "sign")
	}
	if _, err := c.agg.AddSignature(cache, d, own); err != nil {
		cache.Discard()
		return nil, errors.Wrap(err, "own signature")
	}
	if x.Event != nil {
		g.Phase = ProposalPending
		g.Pending = d
	}
	if err := c.groups.Put(cache, []byte(g.Prefix), g); err != nil {
		cache.Discard()
		return nil, err
	}
	p, err := c.agg.Get(cache, d)
	if err != nil {
		cache.Discard()
		return nil, err
	}

	out := *x
	out.Signatures = p.Signatures
	if err := c.deps.Mailbox.Send(ctx, x.Route, &out, g.Members); err != nil {
		cache.Discard()
		return nil, errors.Wrap(err, "send proposal")
	}
	if err := cache.Write(); err != nil {
		return nil, errors.Wrap(err, "write")
	}
	c.sessions[d] = s
	c.logger.Info("proposal sent", "route", x.Route, "group", short(g.Prefix), "digest", short(string(d)), "signers", len(p.Signatures))
	return s, nil
}

// admit decodes a notification and checks that both this member and the
// sender are expected co-signers.
func (c *Coordinator) admit(n *mailbox.Notification, route string) (*Exchange, error) {
	if n == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "notification")
	}
	if n.Route != route {
		return nil, errors.Wrapf(errors.ErrInput, "notification on %s, want %s", n.Route, route)
	}
	var x Exchange
	if err := n.Decode(&x); err != nil {
		return nil, err
	}
	if x.Route != route {
		return nil, errors.Wrapf(errors.ErrInput, "exchange for %s on %s", x.Route, route)
	}
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if indexOf(x.Smids, c.self) < 0 {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "%s is not a signer", short(c.self))
	}
	if indexOf(x.Smids, n.Source) < 0 {
		return nil, errors.Wrapf(errors.ErrRosterMismatch, "sender %s is not a signer", short(n.Source))
	}
	return &x, nil
}

// admitMember additionally checks the rosters against the stored
// membership of the group.
func (c *Coordinator) admitMember(n *mailbox.Notification, route string) (*Exchange, *Group, error) {
	x, err := c.admit(n, route)
	if err != nil {
		return nil, nil, err
	}
	g, err := c.Group(x.Group)
	if err != nil {
		return nil, nil, err
	}
	if !sameRoster(x.Smids, g.Members) {
		return nil, nil, errors.Wrapf(errors.ErrRosterMismatch, "signers %v, members %v", shorts(x.Smids), shorts(g.Members))
	}
	if len(x.Rmids) != 0 && !sameRoster(x.Rmids, g.Members) {
		return nil, nil, errors.Wrapf(errors.ErrRosterMismatch, "next key roster %v, members %v", shorts(x.Rmids), shorts(g.Members))
	}
	return x, g, nil
}

// applied returns true if the event of given exchange is already part of
// the confirmed group log.
func (c *Coordinator) applied(x *Exchange) (bool, error) {
	if x.Event == nil {
		return false, nil
	}
	se, err := c.log.Event(c.db, x.Event.Prefix, x.Event.Sequence)
	switch {
	case errors.ErrNotFound.Is(err):
		return false, nil
	case err != nil:
		return false, err
	}
	if se.Event.Digest != x.Event.Digest {
		return false, errors.Wrapf(errors.ErrDigestMismatch, "another event confirmed at %d", x.Event.Sequence)
	}
	return true, nil
}

// joined returns the session of a proposal that this member already
// holds, after absorbing the signatures of the notification. Nil is
// returned for a proposal this member does not hold.
func (c *Coordinator) joined(ctx context.Context, n *mailbox.Notification, x *Exchange) (*Session, error) {
	d := x.Digest()
	switch _, err := c.agg.Get(c.db, d); {
	case errors.ErrNotFound.Is(err):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if err := c.absorb(ctx, n, x); err != nil {
		return nil, err
	}
	s, ok := c.sessions[d]
	if !ok {
		s = c.newSession(x.Group, x)
		c.sessions[d] = s
	}
	return s, nil
}

// checkIdle fails if the group has a pending proposal for another event.
// A pending proposal for an earlier event is a wait condition, a competing
// one must be confirmed or withdrawn first.
func (c *Coordinator) checkIdle(g *Group, ev *kel.Event) error {
	if g.Phase == Confirmed || g.Pending == "" || g.Pending == ev.Digest {
		return nil
	}
	if p, err := c.agg.Get(c.db, g.Pending); err == nil && p.Event != nil && p.Event.Sequence < ev.Sequence {
		return errors.Wrapf(errors.ErrNotYetVisible, "pending event %d of %s not confirmed", p.Event.Sequence, short(g.Prefix))
	}
	return errors.Wrapf(errors.ErrProposalPending, "group %s, proposal %s", short(g.Prefix), short(string(g.Pending)))
}

// Withdraw abandons the pending proposal of a group. The group returns to
// its confirmed state, the proposal and the signatures collected for it
// are forgotten and its session fails. Other members are not notified;
// each of them withdraws on its own.
//
// Only proposals that were not submitted to the witnesses yet can be
// withdrawn. Withdrawing an inception forgets the group. Withdrawing a
// group without a pending proposal is a no-op.
func (c *Coordinator) Withdraw(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.Group(prefix)
	if err != nil {
		return err
	}
	switch g.Phase {
	case Confirmed:
		return nil
	case ProposalPending:
	default:
		return errors.Wrapf(errors.ErrState, "proposal %s of %s already submitted in phase %s", short(string(g.Pending)), short(prefix), g.Phase)
	}

	d := g.Pending
	cache := c.db.CacheWrap()
	if err := c.agg.Delete(cache, d); err != nil {
		cache.Discard()
		return err
	}
	_, err = c.log.State(c.db, prefix)
	switch {
	case errors.ErrNotFound.Is(err):
		err = c.groups.Delete(cache, []byte(prefix))
	case err == nil:
		g.Phase = Confirmed
		g.Pending = ""
		g.PendingSeqs = nil
		err = c.groups.Put(cache, []byte(prefix), g)
	}
	if err != nil {
		cache.Discard()
		return err
	}
	if err := cache.Write(); err != nil {
		return errors.Wrap(err, "write")
	}
	if s, ok := c.sessions[d]; ok {
		s.withdrawn = true
		delete(c.sessions, d)
	}
	c.logger.Info("proposal withdrawn", "group", short(prefix), "digest", short(string(d)))
	return nil
}

// follows checks that a proposed event directly follows the confirmed
// state. An event further ahead is a wait condition because this member
// has not confirmed the events in between yet.
func follows(ev *kel.Event, state kel.State) error {
	if ev.Sequence > state.Sequence+1 {
		return errors.Wrapf(errors.ErrNotYetVisible, "event %d of %s, confirmed %d", ev.Sequence, short(state.Prefix), state.Sequence)
	}
	return kel.Validate(ev, state)
}

func (c *Coordinator) algorithm(d crypto.Digest) crypto.Algorithm {
	if d != "" {
		if alg, err := d.Algorithm(); err == nil {
			return alg
		}
	}
	if c.conf.Algorithm == "" {
		return crypto.DefaultAlgorithm
	}
	return c.conf.Algorithm
}

func (c *Coordinator) newSession(prefix string, x *Exchange) *Session {
	return &Session{
		c:      c,
		name:   fmt.Sprintf("group%s.%s", x.Route, uuid.New()),
		route:  x.Route,
		prefix: prefix,
		digest: x.Digest(),
		event:  x.Event,
		reply:  x.Reply,
	}
}

// short returns a prefix of an identifier suitable for logs.
func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func shorts(ids []string) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = short(id)
	}
	return res
}
