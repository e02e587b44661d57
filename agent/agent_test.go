package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/group"
	"github.com/iov-one/gkel/x/identifier"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var witnesses = []string{"wan", "wil", "wes"}

func options(t testing.TB, confs map[string]interface{}) gkel.Options {
	t.Helper()
	raw := make(map[string]json.RawMessage, len(confs))
	for pkg, c := range confs {
		b, err := json.Marshal(c)
		require.NoError(t, err)
		raw[pkg] = b
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return gkel.Options{"conf": b}
}

func newAgent(t testing.TB, net *Network, name string) *Agent {
	t.Helper()
	conf := DefaultConfig()
	conf.PollInterval = time.Millisecond
	opts := options(t, map[string]interface{}{
		PkgName: conf,
		identifier.PkgName: identifier.Config{
			Witnesses:        witnesses,
			WitnessThreshold: 2,
		},
	})
	a, err := New(context.Background(), name, opts, net.Deps(nil))
	require.NoError(t, err)
	return a
}

func prefixes(agents ...*Agent) []string {
	res := make([]string, len(agents))
	for i, a := range agents {
		res[i] = a.Prefix()
	}
	return res
}

func groupSpec(t testing.TB, name string, threshold gkel.Threshold, members ...*Agent) group.Spec {
	return group.Spec{
		Name:             name,
		Members:          prefixes(members...),
		Threshold:        threshold,
		Witnesses:        witnesses,
		WitnessThreshold: 2,
	}
}

// run proposes with the first agent, joins with the others and waits until
// every member converged.
func run(t *testing.T, route, name string, propose func(ctx context.Context) (*group.Session, error), proposer *Agent, joiners ...*Agent) []group.Convergence {
	t.Helper()
	ctx := context.Background()
	s, err := propose(ctx)
	require.NoError(t, err)

	res := make([]group.Convergence, len(joiners)+1)
	var eg errgroup.Group
	eg.Go(func() (err error) {
		res[0], err = proposer.WaitConverged(ctx, s)
		return err
	})
	for i, a := range joiners {
		i, a := i, a
		eg.Go(func() error {
			s, err := a.Join(ctx, route, name)
			if err != nil {
				return err
			}
			res[i+1], err = a.WaitConverged(ctx, s)
			return err
		})
	}
	require.NoError(t, eg.Wait())
	return res
}

func assertConverged(t *testing.T, convs []group.Convergence) {
	t.Helper()
	for _, c := range convs[1:] {
		assert.Equal(t, convs[0], c)
	}
}

func TestInceptionConverges(t *testing.T) {
	net := NewNetwork(witnesses, 0, false, nil)
	alice := newAgent(t, net, "alice")
	bob := newAgent(t, net, "bob")

	spec := groupSpec(t, "geda", gkeltest.Threshold(t, "1/2"), alice, bob)
	convs := run(t, mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return alice.Incept(ctx, spec)
	}, alice, bob)
	assertConverged(t, convs)
	assert.Equal(t, uint64(0), convs[0].Sequence)
	assert.Equal(t, "geda", convs[0].Name)
	assert.Equal(t, string(convs[0].Digest), convs[0].Prefix)

	conv, err := bob.Convergence(convs[0].Prefix)
	require.NoError(t, err)
	assert.Equal(t, convs[0], conv)
}

func TestDelegatedGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork(witnesses, 0, true, nil)
	gar1 := newAgent(t, net, "gar1")
	gar2 := newAgent(t, net, "gar2")
	qar1 := newAgent(t, net, "qar1")
	qar2 := newAgent(t, net, "qar2")
	qar3 := newAgent(t, net, "qar3")

	gspec := groupSpec(t, "geda", gkeltest.Threshold(t, "1/2"), gar1, gar2)
	gconvs := run(t, mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return gar1.Incept(ctx, gspec)
	}, gar1, gar2)
	assertConverged(t, gconvs)
	geda := gconvs[0].Prefix

	qspec := groupSpec(t, "qvi", gkeltest.Weighted(t, "2/3", "1/2", "1/2"), qar1, qar2, qar3)
	qspec.Delegator = geda
	s1, err := qar1.Incept(ctx, qspec)
	require.NoError(t, err)
	s2, err := qar2.Join(ctx, mailbox.RouteInception, "qvi")
	require.NoError(t, err)
	s3, err := qar3.Join(ctx, mailbox.RouteInception, "qvi")
	require.NoError(t, err)

	// Without the anchor of the delegator nothing is confirmed.
	done, _, err := s1.Poll(ctx)
	assert.False(t, done)
	assert.True(t, errors.IsRecoverable(err))
	_, err = qar1.Convergence(s1.Prefix())
	assert.True(t, errors.ErrNotFound.Is(err))

	aconvs := run(t, mailbox.RouteInteraction, "", func(ctx context.Context) (*group.Session, error) {
		return gar1.Anchor(ctx, geda, s1.Seal())
	}, gar1, gar2)
	assertConverged(t, aconvs)
	assert.Equal(t, uint64(1), aconvs[0].Sequence)

	qconvs := make([]group.Convergence, 3)
	for i, pair := range []struct {
		a *Agent
		s *group.Session
	}{{qar1, s1}, {qar2, s2}, {qar3, s3}} {
		qconvs[i], err = pair.a.WaitConverged(ctx, pair.s)
		require.NoError(t, err)
	}
	assertConverged(t, qconvs)
	qvi := qconvs[0].Prefix
	state, err := qar3.Coordinator().State(qvi)
	require.NoError(t, err)
	assert.Equal(t, geda, state.Delegator)
	assert.Equal(t, kel.DelegatedInception, state.Type)

	// Rotation of the delegated group, anchored by the delegator again.
	before := state
	for _, a := range []*Agent{qar1, qar2, qar3} {
		_, err := a.RotateIndividual(ctx)
		require.NoError(t, err)
	}
	r1, err := qar1.Rotate(ctx, qvi, group.RotateArgs{})
	require.NoError(t, err)
	r2, err := qar2.Join(ctx, mailbox.RouteRotation, "")
	require.NoError(t, err)
	r3, err := qar3.Join(ctx, mailbox.RouteRotation, "")
	require.NoError(t, err)

	aconvs = run(t, mailbox.RouteInteraction, "", func(ctx context.Context) (*group.Session, error) {
		return gar2.Anchor(ctx, geda, r1.Seal())
	}, gar2, gar1)
	assertConverged(t, aconvs)
	assert.Equal(t, uint64(2), aconvs[0].Sequence)

	for i, pair := range []struct {
		a *Agent
		s *group.Session
	}{{qar1, r1}, {qar2, r2}, {qar3, r3}} {
		qconvs[i], err = pair.a.WaitConverged(ctx, pair.s)
		require.NoError(t, err)
	}
	assertConverged(t, qconvs)
	assert.Equal(t, uint64(1), qconvs[0].Sequence)

	after, err := qar2.Coordinator().State(qvi)
	require.NoError(t, err)
	assert.Equal(t, kel.DelegatedRotation, after.Type)
	for i, k := range after.Keys {
		assert.True(t, before.NextKeys[i].Matches([]byte(k)))
	}
	assert.Empty(t, net.Pool.Escrowed())
}

func TestEndRoleAuthorization(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork(witnesses, 0, false, nil)
	alice := newAgent(t, net, "alice")
	bob := newAgent(t, net, "bob")

	spec := groupSpec(t, "geda", gkeltest.Threshold(t, "2"), alice, bob)
	convs := run(t, mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return alice.Incept(ctx, spec)
	}, alice, bob)
	prefix := convs[0].Prefix

	sa, err := alice.AuthorizeEndRole(ctx, prefix, discovery.RoleAgent, alice.Prefix())
	require.NoError(t, err)
	sb, err := bob.Join(ctx, mailbox.RouteReply, "")
	require.NoError(t, err)
	for _, pair := range []struct {
		a *Agent
		s *group.Session
	}{{alice, sa}, {bob, sb}} {
		res, err := pair.a.Wait(ctx, pair.s)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.Prefix()}, res)
	}
	eids, err := net.Registry.Resolve(ctx, prefix, discovery.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Prefix()}, eids)
}

func TestNewReadsOptions(t *testing.T) {
	net := NewNetwork(witnesses, 0, false, nil)
	groupConf := group.DefaultConfig()
	groupConf.TrustProposer = true
	opts := options(t, map[string]interface{}{
		group.PkgName: groupConf,
	})
	a, err := New(context.Background(), "alice", opts, net.Deps(nil))
	require.NoError(t, err)
	assert.True(t, a.Coordinator().Config().TrustProposer)

	bad := DefaultConfig()
	bad.PollInterval = 0
	_, err = New(context.Background(), "bob", options(t, map[string]interface{}{PkgName: bad}), net.Deps(nil))
	assert.True(t, errors.ErrInput.Is(err))

	_, err = New(context.Background(), "", nil, net.Deps(nil))
	assert.True(t, errors.ErrEmpty.Is(err))
}

func TestJoinTimesOut(t *testing.T) {
	net := NewNetwork(witnesses, 0, false, nil)
	conf := DefaultConfig()
	conf.PollInterval = time.Millisecond
	conf.Timeout = 20 * time.Millisecond
	a, err := New(context.Background(), "alice", options(t, map[string]interface{}{PkgName: conf}), net.Deps(nil))
	require.NoError(t, err)

	_, err = a.Join(context.Background(), mailbox.RouteInception, "geda")
	assert.True(t, errors.ErrTimeout.Is(err))
}

func TestJoinSkipsRefusedProposals(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork(witnesses, 0, false, nil)
	alice := newAgent(t, net, "alice")
	bob := newAgent(t, net, "bob")
	mallory := newAgent(t, net, "mallory")

	// Neither an event nor a reply.
	empty, err := json.Marshal(&group.Exchange{Route: mailbox.RouteInception, Group: "forged", Smids: prefixes(mallory, bob)})
	require.NoError(t, err)
	for _, raw := range [][]byte{empty, []byte(`["not", "an", "exchange"]`)} {
		require.NoError(t, net.Relay.Send(ctx, mallory.Prefix(), mailbox.RouteInception, raw, []string{bob.Prefix()}))
	}

	spec := groupSpec(t, "geda", gkeltest.Threshold(t, "2"), alice, bob)
	convs := run(t, mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return alice.Incept(ctx, spec)
	}, alice, bob)
	assertConverged(t, convs)

	unread, err := bob.Mailbox().List(ctx, mailbox.RouteInception)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestJoinWaitsForWithdrawal(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork(witnesses, 0, false, nil)
	alice := newAgent(t, net, "alice")
	bob := newAgent(t, net, "bob")

	spec := groupSpec(t, "geda", gkeltest.Threshold(t, "2"), alice, bob)
	convs := run(t, mailbox.RouteInception, "geda", func(ctx context.Context) (*group.Session, error) {
		return alice.Incept(ctx, spec)
	}, alice, bob)
	prefix := convs[0].Prefix
	for _, a := range []*Agent{alice, bob} {
		_, err := a.RotateIndividual(ctx)
		require.NoError(t, err)
	}

	ra, err := alice.Rotate(ctx, prefix, group.RotateArgs{NextThreshold: gkeltest.Threshold(t, "1")})
	require.NoError(t, err)
	_, err = bob.Rotate(ctx, prefix, group.RotateArgs{})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = bob.Join(waitCtx, mailbox.RouteRotation, "")
	assert.True(t, errors.ErrTimeout.Is(err), "%+v", err)
	assert.Contains(t, err.Error(), "proposal pending")

	require.NoError(t, bob.Withdraw(ctx, prefix))
	rb, err := bob.Join(ctx, mailbox.RouteRotation, "")
	require.NoError(t, err)
	assert.Equal(t, ra.Digest(), rb.Digest())

	ca, err := alice.WaitConverged(ctx, ra)
	require.NoError(t, err)
	cb, err := bob.WaitConverged(ctx, rb)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, uint64(1), ca.Sequence)
}

func TestJoinRejectsUnknownRoute(t *testing.T) {
	net := NewNetwork(witnesses, 0, false, nil)
	a := newAgent(t, net, "alice")
	_, err := a.Join(context.Background(), "/multisig/unknown", "")
	assert.True(t, errors.ErrInput.Is(err))
}
