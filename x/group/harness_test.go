package group

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/iov-one/gkel/gconf"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/identifier"
	"github.com/iov-one/gkel/x/keystate"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/iov-one/gkel/x/operation"
	"github.com/iov-one/gkel/x/witness"
	"github.com/stretchr/testify/require"
)

var witnesses = []string{"wan", "wil"}

type harness struct {
	t        *testing.T
	relay    *mailbox.MemRelay
	pool     *witness.Pool
	registry *discovery.MemRegistry
	tracker  *operation.Tracker
}

func newHarness(t *testing.T, redeliver bool) *harness {
	pool := witness.NewPool(witnesses, 0, nil)
	return &harness{
		t:        t,
		relay:    mailbox.NewMemRelay(redeliver),
		pool:     pool,
		registry: discovery.NewMemRegistry(pool, nil),
		tracker:  operation.NewTracker(time.Millisecond, nil),
	}
}

type member struct {
	name    string
	prefix  string
	habitat *identifier.Habitat
	mailbox *mailbox.Mailbox
	coord   *Coordinator
}

func (h *harness) member(name string, conf Config) *member {
	h.t.Helper()
	ctx := context.Background()
	db := store.MemStore()
	require.NoError(h.t, gconf.Save(db, PkgName, &conf))
	hab, err := identifier.NewHabitat(db, identifier.NewKeeper(nil), h.pool, nil)
	require.NoError(h.t, err)
	rec, op, err := hab.Incept(ctx, name)
	require.NoError(h.t, err)
	h.track(op)

	mb := mailbox.NewMailbox(rec.Prefix, h.relay, nil)
	states, err := keystate.NewCache(h.pool, 0, nil)
	require.NoError(h.t, err)
	coord, err := NewCoordinator(db, rec.Prefix, Deps{
		Habitat:  hab,
		Mailbox:  mb,
		States:   states,
		Network:  h.pool,
		Registry: h.registry,
	}, nil)
	require.NoError(h.t, err)
	return &member{name: name, prefix: rec.Prefix, habitat: hab, mailbox: mb, coord: coord}
}

func (h *harness) track(op operation.Operation) interface{} {
	h.t.Helper()
	res, err := h.tracker.Track(context.Background(), op, 5*time.Second)
	require.NoError(h.t, err)
	return res
}

func (h *harness) converge(s *Session) Convergence {
	h.t.Helper()
	res := h.track(s)
	conv, ok := res.(Convergence)
	require.True(h.t, ok, "result %T", res)
	return conv
}

// next returns the first unread notification of given route.
func (m *member) next(t *testing.T, route string) *mailbox.Notification {
	t.Helper()
	n, err := m.mailbox.Poll(context.Background(), route)
	require.NoError(t, err)
	return n
}

func (m *member) rotate(h *harness) {
	h.t.Helper()
	_, op, err := m.habitat.Rotate(context.Background(), m.name)
	require.NoError(h.t, err)
	h.track(op)
}

func spec(t testing.TB, name, threshold string, members ...*member) Spec {
	s := Spec{
		Name:             name,
		Threshold:        gkeltest.Threshold(t, threshold),
		Witnesses:        witnesses,
		WitnessThreshold: 2,
	}
	s.Members = prefixes(members...)
	return s
}

func weighted(t testing.TB, name string, weights []string, members ...*member) Spec {
	s := spec(t, name, "1", members...)
	s.Threshold = gkeltest.Weighted(t, weights...)
	return s
}

// last returns the most recent unread notification of given route.
func (m *member) last(t *testing.T, route string) *mailbox.Notification {
	t.Helper()
	ns, err := m.mailbox.List(context.Background(), route)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
	return &ns[len(ns)-1]
}

// send delivers an exchange as if it was sent by given member.
func (h *harness) send(from *member, x *Exchange, to ...*member) {
	h.t.Helper()
	raw, err := json.Marshal(x)
	require.NoError(h.t, err)
	var recipients []string
	for _, m := range to {
		recipients = append(recipients, m.prefix)
	}
	require.NoError(h.t, h.relay.Send(context.Background(), from.prefix, x.Route, raw, recipients))
}

func prefixes(members ...*member) []string {
	res := make([]string, len(members))
	for i, m := range members {
		res[i] = m.prefix
	}
	return res
}
