package identifier

import (
	"context"
	"testing"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gconf"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/operation"
	"github.com/iov-one/gkel/x/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salt = "0123456789abcdef"

func newHabitat(t *testing.T, pool witness.Network, conf Config) *Habitat {
	t.Helper()
	db := store.MemStore()
	require.NoError(t, gconf.Save(db, PkgName, &conf))
	salter, err := conf.Salter()
	require.NoError(t, err)
	h, err := NewHabitat(db, NewKeeper(salter), pool, nil)
	require.NoError(t, err)
	return h
}

func TestInceptAndRotate(t *testing.T) {
	ctx := context.Background()
	pool := witness.NewPool([]string{"wan", "wil"}, 0, nil)
	h := newHabitat(t, pool, Config{Salt: salt, Witnesses: []string{"wan", "wil"}, WitnessThreshold: 2})
	tracker := operation.NewTracker(time.Millisecond, nil)

	rec, op, err := h.Incept(ctx, "alice")
	require.NoError(t, err)
	receipts, err := tracker.Track(ctx, op, time.Second)
	require.NoError(t, err)
	assert.Len(t, receipts.([]kel.Receipt), 2)

	_, _, err = h.Incept(ctx, "alice")
	assert.True(t, errors.ErrDuplicate.Is(err))

	got, s0, err := h.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, []crypto.PublicKey{rec.Current}, s0.Keys)

	s1, op, err := h.Rotate(ctx, "alice")
	require.NoError(t, err)
	_, err = tracker.Track(ctx, op, time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s1.Sequence)
	assert.Equal(t, []crypto.PublicKey{rec.Next}, s1.Keys)
	assert.True(t, s0.NextKeys[0].Matches([]byte(s1.Keys[0])))
	assert.NotEqual(t, s0.NextKeys, s1.NextKeys)

	// The retired key is kept to sign group events created before the
	// rotation.
	assert.True(t, h.Keeper().Has(rec.Current))
	d := gkeltest.Digest(t, "group event")
	sig, err := h.Sign(rec.Current, 2, d)
	require.NoError(t, err)
	assert.Equal(t, 2, sig.Index)
	assert.True(t, sig.Verify(rec.Current, d))

	snap, err := pool.Query(ctx, rec.Prefix, 1)
	require.NoError(t, err)
	assert.Equal(t, s1, snap.State)

	byPrefix, err := h.ByPrefix(rec.Prefix)
	require.NoError(t, err)
	assert.Equal(t, "alice", byPrefix.Name)
	_, err = h.ByPrefix("unknown")
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestInteract(t *testing.T) {
	ctx := context.Background()
	pool := witness.NewPool(nil, 0, nil)
	h := newHabitat(t, pool, Config{})

	rec, _, err := h.Incept(ctx, "bob")
	require.NoError(t, err)

	seal := kel.Seal{Prefix: "child", Digest: gkeltest.Digest(t, "child")}
	s, op, err := h.Interact(ctx, "bob", []kel.Seal{seal})
	require.NoError(t, err)
	assert.Equal(t, kel.Interaction, s.Type)

	tracker := operation.NewTracker(time.Millisecond, nil)
	_, err = tracker.Track(ctx, op, time.Second)
	require.NoError(t, err)

	snap, err := pool.Query(ctx, rec.Prefix, 1)
	require.NoError(t, err)
	assert.True(t, snap.Anchors(seal))

	_, _, err = h.Interact(ctx, "nobody", nil)
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestSaltedKeysAreDeterministic(t *testing.T) {
	ctx := context.Background()
	conf := Config{Salt: salt}
	a := newHabitat(t, witness.NewPool(nil, 0, nil), conf)
	b := newHabitat(t, witness.NewPool(nil, 0, nil), conf)

	ra, _, err := a.Incept(ctx, "carol")
	require.NoError(t, err)
	rb, _, err := b.Incept(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, ra.Prefix, rb.Prefix)

	random := newHabitat(t, witness.NewPool(nil, 0, nil), Config{})
	rr, _, err := random.Incept(ctx, "carol")
	require.NoError(t, err)
	assert.NotEqual(t, ra.Prefix, rr.Prefix)
}

func TestSubmitFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	// The pool does not know the configured witness.
	pool := witness.NewPool(nil, 0, nil)
	h := newHabitat(t, pool, Config{Witnesses: []string{"ghost"}, WitnessThreshold: 1})

	_, _, err := h.Incept(ctx, "dave")
	require.True(t, errors.ErrInput.Is(err), "%+v", err)

	_, _, err = h.Get("dave")
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]struct {
		conf       Config
		wantFields []string
	}{
		"empty is valid": {},
		"full": {
			conf: Config{Salt: salt, Witnesses: []string{"wan"}, WitnessThreshold: 1, Algorithm: crypto.Blake2b_256},
		},
		"short salt": {
			conf:       Config{Salt: "short"},
			wantFields: []string{"salt"},
		},
		"too many receipts": {
			conf:       Config{Witnesses: []string{"wan"}, WitnessThreshold: 2},
			wantFields: []string{"toad"},
		},
		"unknown algorithm": {
			conf:       Config{Algorithm: "sha1"},
			wantFields: []string{"algorithm"},
		},
	}
	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			err := tc.conf.Validate()
			if len(tc.wantFields) == 0 {
				require.NoError(t, err)
				return
			}
			for _, f := range tc.wantFields {
				assert.NotEmpty(t, errors.FieldErrors(err, f), "field %s", f)
			}
		})
	}
}

func TestHabitatLoadsConfiguration(t *testing.T) {
	db := store.MemStore()
	opts := gkel.Options{"conf": []byte(`{"identifier": {"toad": 1, "witnesses": ["wan"]}}`)}
	var conf Config
	require.NoError(t, gconf.InitConfig(db, opts, PkgName, &conf))

	h, err := NewHabitat(db, NewKeeper(nil), witness.NewPool([]string{"wan"}, 0, nil), nil)
	require.NoError(t, err)
	rec, _, err := h.Incept(context.Background(), "erin")
	require.NoError(t, err)
	_, s, err := h.Get(rec.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"wan"}, s.Witnesses)
	assert.Equal(t, uint32(1), s.WitnessThreshold)
}
