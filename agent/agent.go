package agent

import (
	"context"
	"fmt"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gconf"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/group"
	"github.com/iov-one/gkel/x/identifier"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/keystate"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/iov-one/gkel/x/operation"
)

// Agent is one member. It owns its database and talks to other members
// only through the services given to New.
type Agent struct {
	name    string
	conf    Config
	db      *store.MemDB
	habitat *identifier.Habitat
	mailbox *mailbox.Mailbox
	states  *keystate.Cache
	tracker *operation.Tracker
	coord   *group.Coordinator
	prefix  string
	logger  gkel.Logger
}

// New creates a member with an individual identifier of given name and
// waits until the witnesses receipted its inception.
//
// Options are read from opts["conf"], keyed by package name: "agent",
// "identifier" and "group". Missing entries use the defaults.
func New(ctx context.Context, name string, opts gkel.Options, deps Deps) (*Agent, error) {
	if name == "" {
		return nil, errors.Wrap(errors.ErrEmpty, "name")
	}
	if deps.Relay == nil || deps.Network == nil {
		return nil, errors.Wrap(errors.ErrEmpty, "relay and network are required")
	}
	logger := gkel.LoggerOrDefault(deps.Logger).With("agent", name)
	db := store.MemStore()

	conf := DefaultConfig()
	if err := initConfig(db, opts, PkgName, &conf); err != nil {
		return nil, err
	}
	var idConf identifier.Config
	if err := initConfig(db, opts, identifier.PkgName, &idConf); err != nil {
		return nil, err
	}
	groupConf := group.DefaultConfig()
	if err := initConfig(db, opts, group.PkgName, &groupConf); err != nil {
		return nil, err
	}

	salter, err := idConf.Salter()
	if err != nil {
		return nil, errors.Wrap(err, "key derivation")
	}
	habitat, err := identifier.NewHabitat(db, identifier.NewKeeper(salter), deps.Network, logger)
	if err != nil {
		return nil, err
	}
	tracker := operation.NewTracker(conf.PollInterval, logger)
	rec, op, err := habitat.Incept(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "individual inception")
	}
	if _, err := tracker.Track(ctx, op, conf.Timeout); err != nil {
		return nil, errors.Wrap(err, "individual inception receipts")
	}

	states, err := keystate.NewCache(deps.Network, conf.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	mb := mailbox.NewMailbox(rec.Prefix, deps.Relay, logger)
	coord, err := group.NewCoordinator(db, rec.Prefix, group.Deps{
		Habitat:  habitat,
		Mailbox:  mb,
		States:   states,
		Network:  deps.Network,
		Registry: deps.Registry,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("agent ready", "prefix", rec.Prefix)
	return &Agent{
		name:    name,
		conf:    conf,
		db:      db,
		habitat: habitat,
		mailbox: mb,
		states:  states,
		tracker: tracker,
		coord:   coord,
		prefix:  rec.Prefix,
		logger:  logger,
	}, nil
}

// initConfig stores the configuration of a package given in the options.
// The configuration keeps its defaults when the options do not name the
// package.
func initConfig(db gconf.Store, opts gkel.Options, pkg string, conf gconf.Configuration) error {
	err := gconf.InitConfig(db, opts, pkg, conf)
	if err != nil && !errors.ErrNotFound.Is(err) {
		return errors.Wrapf(err, "%s configuration", pkg)
	}
	return nil
}

// Name returns the name of the individual identifier.
func (a *Agent) Name() string { return a.name }

// Prefix returns the prefix of the individual identifier.
func (a *Agent) Prefix() string { return a.prefix }

// Coordinator returns the group coordinator of this member.
func (a *Agent) Coordinator() *group.Coordinator { return a.coord }

// Habitat returns the individual identifiers of this member.
func (a *Agent) Habitat() *identifier.Habitat { return a.habitat }

// Mailbox returns the mailbox of this member.
func (a *Agent) Mailbox() *mailbox.Mailbox { return a.mailbox }

// States returns the key state cache of this member.
func (a *Agent) States() *keystate.Cache { return a.states }

// Wait tracks given operation until it completes or the configured
// timeout elapses. A timed out operation is left outstanding and can be
// waited for again.
func (a *Agent) Wait(ctx context.Context, op operation.Operation) (interface{}, error) {
	return a.tracker.Track(ctx, op, a.conf.Timeout)
}

// WaitConverged waits for a group session and returns the convergence
// tuple it completed with.
func (a *Agent) WaitConverged(ctx context.Context, s *group.Session) (group.Convergence, error) {
	res, err := a.Wait(ctx, s)
	if err != nil {
		return group.Convergence{}, err
	}
	conv, ok := res.(group.Convergence)
	if !ok {
		return group.Convergence{}, errors.Wrapf(errors.ErrHuman, "session %s completed with %T", s.Name(), res)
	}
	return conv, nil
}

// RotateIndividual rotates the individual key of this member and waits for
// the receipts.
func (a *Agent) RotateIndividual(ctx context.Context) (kel.State, error) {
	s, op, err := a.habitat.Rotate(ctx, a.name)
	if err != nil {
		return kel.State{}, err
	}
	if _, err := a.Wait(ctx, op); err != nil {
		return kel.State{}, err
	}
	return s, nil
}

// Incept proposes a new group. Members whose individual identifiers are not
// yet visible are waited for.
func (a *Agent) Incept(ctx context.Context, spec group.Spec) (*group.Session, error) {
	var s *group.Session
	err := a.retry(ctx, func(ctx context.Context) (err error) {
		s, err = a.coord.Incept(ctx, spec)
		return err
	})
	return s, err
}

// Anchor proposes an interaction of a group that anchors given seals.
func (a *Agent) Anchor(ctx context.Context, prefix string, seals ...kel.Seal) (*group.Session, error) {
	var s *group.Session
	err := a.retry(ctx, func(ctx context.Context) (err error) {
		s, err = a.coord.Anchor(ctx, prefix, seals)
		return err
	})
	return s, err
}

// Rotate proposes a rotation of a group. The individual rotations of other
// members are waited for.
func (a *Agent) Rotate(ctx context.Context, prefix string, args group.RotateArgs) (*group.Session, error) {
	var s *group.Session
	err := a.retry(ctx, func(ctx context.Context) (err error) {
		s, err = a.coord.Rotate(ctx, prefix, args)
		return err
	})
	return s, err
}

// AuthorizeEndRole proposes an end role authorization of a group.
func (a *Agent) AuthorizeEndRole(ctx context.Context, prefix, role, eid string) (*group.Session, error) {
	var s *group.Session
	err := a.retry(ctx, func(ctx context.Context) (err error) {
		s, err = a.coord.AuthorizeEndRole(ctx, prefix, role, eid)
		return err
	})
	return s, err
}

// Withdraw abandons the pending proposal of a group so that this member
// can propose or join another one.
func (a *Agent) Withdraw(ctx context.Context, prefix string) error {
	return a.coord.Withdraw(ctx, prefix)
}

func (a *Agent) retry(ctx context.Context, fn func(context.Context) error) error {
	return operation.Retry(ctx, a.coord.Config().Backoff, a.conf.Retries, fn)
}

// Join waits for a proposal on given route that this member did not join
// yet and joins it. The name is the local name of a group being incepted
// and is ignored on other routes. Notifications of proposals already held
// are processed while waiting.
//
// Notifications that cannot be admitted or joined are logged and marked
// read. A proposal that cannot be joined yet, for example because another
// proposal of the group is pending, is retried until the timeout.
func (a *Agent) Join(ctx context.Context, route, name string) (*group.Session, error) {
	if !knownRoute(route) {
		return nil, errors.Wrapf(errors.ErrInput, "unknown route %q", route)
	}
	op := operation.Func(fmt.Sprintf("join%s.%s", route, a.name), func(ctx context.Context) (bool, interface{}, error) {
		ns, err := a.mailbox.List(ctx, route)
		if err != nil {
			return false, nil, err
		}
		var wait error
		for i := range ns {
			n := &ns[i]
			err := a.coord.Process(ctx, n)
			switch {
			case err == nil:
				continue
			case errors.ErrNotFound.Is(err):
			case errors.IsRecoverable(err):
				wait = err
				continue
			default:
				if err := a.drop(ctx, n, err); err != nil {
					return false, nil, err
				}
				continue
			}
			s, err := a.join(ctx, n, route, name)
			switch {
			case err == nil:
				return true, s, nil
			case errors.IsRecoverable(err):
				wait = err
			default:
				if err := a.drop(ctx, n, err); err != nil {
					return false, nil, err
				}
			}
		}
		return false, nil, wait
	})
	res, err := a.Wait(ctx, op)
	if err != nil {
		return nil, err
	}
	return res.(*group.Session), nil
}

// drop refuses a notification for good.
func (a *Agent) drop(ctx context.Context, n *mailbox.Notification, reason error) error {
	a.logger.Error("proposal refused", "route", n.Route, "source", n.Source, "err", reason)
	return a.mailbox.MarkRead(ctx, n.ID)
}

func knownRoute(route string) bool {
	switch route {
	case mailbox.RouteInception, mailbox.RouteInteraction, mailbox.RouteRotation, mailbox.RouteReply:
		return true
	}
	return false
}

func (a *Agent) join(ctx context.Context, n *mailbox.Notification, route, name string) (*group.Session, error) {
	switch route {
	case mailbox.RouteInception:
		return a.coord.JoinInception(ctx, n, name)
	case mailbox.RouteInteraction:
		return a.coord.JoinInteraction(ctx, n)
	case mailbox.RouteRotation:
		return a.coord.JoinRotation(ctx, n)
	case mailbox.RouteReply:
		return a.coord.JoinEndRole(ctx, n)
	}
	return nil, errors.Wrapf(errors.ErrInput, "unknown route %q", route)
}

// Convergence returns the convergence tuple of a group.
func (a *Agent) Convergence(prefix string) (group.Convergence, error) {
	return a.coord.Convergence(prefix)
}
