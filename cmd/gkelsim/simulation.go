package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/agent"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/group"
	"github.com/iov-one/gkel/x/identifier"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/sync/errgroup"
)

type simulation struct {
	delay     time.Duration
	redeliver bool
	logger    log.Logger

	net *agent.Network

	mu      sync.Mutex
	results []result
}

type result struct {
	step   string
	member string
	conv   group.Convergence
}

type proposeFn func(ctx context.Context) (*group.Session, error)

func (s *simulation) run(ctx context.Context) ([]result, error) {
	s.net = agent.NewNetwork(witnesses, s.delay, s.redeliver, s.logger)

	members := make(map[string]*agent.Agent)
	for _, name := range []string{"gar1", "gar2", "qar1", "qar2", "qar3"} {
		a, err := s.agent(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "agent %s", name)
		}
		members[name] = a
	}
	gar1, gar2 := members["gar1"], members["gar2"]
	qar1, qar2, qar3 := members["qar1"], members["qar2"], members["qar3"]

	half, err := gkel.ParseThreshold("1/2")
	if err != nil {
		return nil, err
	}
	gedaSpec := spec("geda", half, gar1, gar2)
	convs, err := s.converge(ctx, "geda inception", mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return gar1.Incept(ctx, gedaSpec)
	}, gar1, gar2)
	if err != nil {
		return nil, err
	}
	geda := convs[0].Prefix

	if err := s.authorize(ctx, geda, gar1, gar2); err != nil {
		return nil, err
	}

	weights, err := gkel.ParseWeightedThreshold("2/3", "1/2", "1/2")
	if err != nil {
		return nil, err
	}
	qviSpec := spec("qvi", weights, qar1, qar2, qar3)
	qviSpec.Delegator = geda
	convs, err = s.delegated(ctx, "qvi inception", mailbox.RouteInception, "qvi", func(ctx context.Context) (*group.Session, error) {
		return qar1.Incept(ctx, qviSpec)
	}, geda, []*agent.Agent{gar1, gar2}, qar1, qar2, qar3)
	if err != nil {
		return nil, err
	}
	qvi := convs[0].Prefix

	for _, a := range []*agent.Agent{qar1, qar2, qar3} {
		if _, err := a.RotateIndividual(ctx); err != nil {
			return nil, errors.Wrapf(err, "individual rotation of %s", a.Name())
		}
	}
	_, err = s.delegated(ctx, "qvi rotation", mailbox.RouteRotation, "", func(ctx context.Context) (*group.Session, error) {
		return qar1.Rotate(ctx, qvi, group.RotateArgs{})
	}, geda, []*agent.Agent{gar2, gar1}, qar1, qar2, qar3)
	if err != nil {
		return nil, err
	}
	return s.results, nil
}

func (s *simulation) agent(ctx context.Context, name string) (*agent.Agent, error) {
	idConf, err := json.Marshal(identifier.Config{Witnesses: witnesses, WitnessThreshold: 2})
	if err != nil {
		return nil, err
	}
	conf, err := json.Marshal(map[string]json.RawMessage{identifier.PkgName: idConf})
	if err != nil {
		return nil, err
	}
	return agent.New(ctx, name, gkel.Options{"conf": conf}, s.net.Deps(s.logger))
}

func spec(name string, threshold gkel.Threshold, members ...*agent.Agent) group.Spec {
	prefixes := make([]string, len(members))
	for i, m := range members {
		prefixes[i] = m.Prefix()
	}
	return group.Spec{
		Name:             name,
		Members:          prefixes,
		Threshold:        threshold,
		Witnesses:        witnesses,
		WitnessThreshold: 2,
	}
}

// converge runs a proposal of the first member, joined by all others, and
// records the convergence of every member.
func (s *simulation) converge(ctx context.Context, step, route, name string, propose proposeFn, proposer *agent.Agent, joiners ...*agent.Agent) ([]group.Convergence, error) {
	sess, err := propose(ctx)
	if err != nil {
		return nil, errors.Wrap(err, step)
	}
	return s.wait(ctx, step, route, name, sess, proposer, joiners...)
}

func (s *simulation) wait(ctx context.Context, step, route, name string, sess *group.Session, proposer *agent.Agent, joiners ...*agent.Agent) ([]group.Convergence, error) {
	convs := make([]group.Convergence, len(joiners)+1)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		convs[0], err = proposer.WaitConverged(ctx, sess)
		return err
	})
	for i, a := range joiners {
		i, a := i, a
		eg.Go(func() error {
			js, err := a.Join(ctx, route, name)
			if err != nil {
				return err
			}
			convs[i+1], err = a.WaitConverged(ctx, js)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range append([]*agent.Agent{proposer}, joiners...) {
		if !convs[i].Equivalent(convs[0]) {
			return nil, errors.Wrapf(errors.ErrDigestMismatch, "%s: %s diverged", step, a.Name())
		}
		s.results = append(s.results, result{step: step, member: a.Name(), conv: convs[i]})
	}
	return convs, nil
}

// delegated runs a proposal of a delegated group together with the
// anchoring interaction of its delegator.
func (s *simulation) delegated(ctx context.Context, step, route, name string, propose proposeFn, delegator string, anchorers []*agent.Agent, proposer *agent.Agent, joiners ...*agent.Agent) ([]group.Convergence, error) {
	sess, err := propose(ctx)
	if err != nil {
		return nil, errors.Wrap(err, step)
	}
	var convs []group.Convergence
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		convs, err = s.wait(ctx, step, route, name, sess, proposer, joiners...)
		return err
	})
	eg.Go(func() error {
		_, err := s.converge(ctx, step+" anchor", mailbox.RouteInteraction, "", func(ctx context.Context) (*group.Session, error) {
			return anchorers[0].Anchor(ctx, delegator, sess.Seal())
		}, anchorers[0], anchorers[1:]...)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return convs, nil
}

// authorize grants the agent end role of a group to its first member.
func (s *simulation) authorize(ctx context.Context, prefix string, proposer *agent.Agent, joiners ...*agent.Agent) error {
	sess, err := proposer.AuthorizeEndRole(ctx, prefix, discovery.RoleAgent, proposer.Prefix())
	if err != nil {
		return errors.Wrap(err, "end role")
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := proposer.Wait(ctx, sess)
		return err
	})
	for _, a := range joiners {
		a := a
		eg.Go(func() error {
			js, err := a.Join(ctx, mailbox.RouteReply, "")
			if err != nil {
				return err
			}
			_, err = a.Wait(ctx, js)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "end role")
	}
	eids, err := s.net.Registry.Resolve(ctx, prefix, discovery.RoleAgent)
	if err != nil {
		return err
	}
	s.logger.Info("end role authorized", "group", prefix, "eids", eids)
	return nil
}
