package kel_test

import (
	"testing"

	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/gkeltest/assert"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/kel"
)

// fixture is an identifier with two current and two pre-rotated keys.
type fixture struct {
	current []*crypto.PrivateKey
	next    []*crypto.PrivateKey
	after   []*crypto.PrivateKey
	icp     *kel.Event
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		current: gkeltest.SeededKeys(t, "current", 2),
		next:    gkeltest.SeededKeys(t, "next", 2),
		after:   gkeltest.SeededKeys(t, "after", 2),
	}
	icp, err := kel.Incept(kel.InceptionArgs{
		Keys:          gkeltest.PublicKeys(f.current),
		Threshold:     gkeltest.Threshold(t, "2"),
		NextKeys:      gkeltest.Commitments(t, f.next),
		NextThreshold: gkeltest.Threshold(t, "1/2"),
	})
	assert.Nil(t, err)
	f.icp = icp
	return f
}

func (f fixture) incepted(t *testing.T) kel.State {
	t.Helper()
	s, err := kel.State{}.Apply(f.icp)
	assert.Nil(t, err)
	return s
}

func (f fixture) rotation(t *testing.T, s kel.State) *kel.Event {
	t.Helper()
	rot, err := kel.Rotate(s, kel.RotationArgs{
		Keys:          gkeltest.PublicKeys(f.next),
		NextKeys:      gkeltest.Commitments(t, f.after),
		NextThreshold: gkeltest.Threshold(t, "2"),
	})
	assert.Nil(t, err)
	return rot
}

func TestInceptionPrefixIsDeterministic(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	assert.Equal(t, a.icp.Prefix, b.icp.Prefix)
	assert.Equal(t, a.icp.Digest, b.icp.Digest)
	assert.Equal(t, string(a.icp.Digest), a.icp.Prefix)
	assert.Nil(t, kel.VerifyDigest(a.icp))

	other, err := kel.Incept(kel.InceptionArgs{
		Keys:          gkeltest.PublicKeys(a.current),
		Threshold:     gkeltest.Threshold(t, "1"),
		NextKeys:      gkeltest.Commitments(t, a.next),
		NextThreshold: gkeltest.Threshold(t, "1/2"),
	})
	assert.Nil(t, err)
	if other.Prefix == a.icp.Prefix {
		t.Fatal("a different threshold must produce a different prefix")
	}

	blake2, err := kel.Incept(kel.InceptionArgs{
		Keys:          gkeltest.PublicKeys(a.current),
		Threshold:     gkeltest.Threshold(t, "2"),
		NextKeys:      gkeltest.Commitments(t, a.next),
		NextThreshold: gkeltest.Threshold(t, "1/2"),
		Algorithm:     crypto.Blake2b_256,
	})
	assert.Nil(t, err)
	assert.Nil(t, kel.VerifyDigest(blake2))
	if blake2.Prefix == a.icp.Prefix {
		t.Fatal("a different algorithm must produce a different prefix")
	}
}

func TestInceptionValidation(t *testing.T) {
	keys := gkeltest.SeededKeys(t, "k", 2)
	cases := map[string]struct {
		args      kel.InceptionArgs
		wantField string
		wantErr   *errors.Error
	}{
		"threshold exceeding keys": {
			args: kel.InceptionArgs{
				Keys:      gkeltest.PublicKeys(keys),
				Threshold: gkeltest.Threshold(t, "3"),
			},
			wantField: "kt",
			wantErr:   errors.ErrInput,
		},
		"no keys": {
			args: kel.InceptionArgs{
				Threshold: gkeltest.Threshold(t, "1"),
			},
			wantField: "k",
			wantErr:   errors.ErrEmpty,
		},
		"witness threshold exceeding witnesses": {
			args: kel.InceptionArgs{
				Keys:             gkeltest.PublicKeys(keys),
				Threshold:        gkeltest.Threshold(t, "1"),
				Witnesses:        []string{"w1"},
				WitnessThreshold: 2,
			},
			wantField: "bt",
			wantErr:   errors.ErrInput,
		},
		"next keys without a next threshold": {
			args: kel.InceptionArgs{
				Keys:      gkeltest.PublicKeys(keys),
				Threshold: gkeltest.Threshold(t, "1"),
				NextKeys:  gkeltest.Commitments(t, keys),
			},
			wantField: "nt",
			wantErr:   errors.ErrEmpty,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			_, err := kel.Incept(tc.args)
			assert.FieldError(t, err, tc.wantField, tc.wantErr)
		})
	}
}

func TestStateApply(t *testing.T) {
	f := newFixture(t)
	incepted := f.incepted(t)

	assert.Equal(t, uint64(0), incepted.Sequence)
	assert.Equal(t, f.icp.Digest, incepted.Digest)
	assert.Equal(t, gkeltest.PublicKeys(f.current), incepted.Keys)

	cases := map[string]struct {
		state   kel.State
		event   func(t *testing.T) *kel.Event
		wantErr *errors.Error
	}{
		"rotation reveals committed keys": {
			state: incepted,
			event: func(t *testing.T) *kel.Event { return f.rotation(t, incepted) },
		},
		"event skipping a sequence number": {
			state: incepted,
			event: func(t *testing.T) *kel.Event {
				ev := f.rotation(t, incepted).Copy()
				ev.Sequence = 2
				assert.Nil(t, kel.Saidify(ev, crypto.DefaultAlgorithm))
				return ev
			},
			wantErr: errors.ErrSequenceMismatch,
		},
		"event referencing another predecessor": {
			state: incepted,
			event: func(t *testing.T) *kel.Event {
				ev := f.rotation(t, incepted).Copy()
				ev.Prior = gkeltest.Digest(t, "something else")
				assert.Nil(t, kel.Saidify(ev, crypto.DefaultAlgorithm))
				return ev
			},
			wantErr: errors.ErrDigestMismatch,
		},
		"tampered event": {
			state: incepted,
			event: func(t *testing.T) *kel.Event {
				ev, err := kel.Interact(incepted, nil, "")
				assert.Nil(t, err)
				ev.Anchors = []kel.Seal{{Prefix: "x", Digest: gkeltest.Digest(t, "x")}}
				return ev
			},
			wantErr: errors.ErrDigestMismatch,
		},
		"rotation to keys that were not committed": {
			state: incepted,
			event: func(t *testing.T) *kel.Event {
				ev, err := kel.Rotate(incepted, kel.RotationArgs{
					Keys:          gkeltest.PublicKeys(f.after),
					NextKeys:      gkeltest.Commitments(t, f.after),
					NextThreshold: gkeltest.Threshold(t, "1"),
				})
				assert.Nil(t, err)
				return ev
			},
			wantErr: errors.ErrCommitmentMismatch,
		},
		"rotation with a threshold that was not committed": {
			state: incepted,
			event: func(t *testing.T) *kel.Event {
				ev := f.rotation(t, incepted).Copy()
				th := gkeltest.Threshold(t, "2")
				ev.Threshold = &th
				assert.Nil(t, kel.Saidify(ev, crypto.DefaultAlgorithm))
				return ev
			},
			wantErr: errors.ErrCommitmentMismatch,
		},
		"second inception": {
			state:   incepted,
			event:   func(t *testing.T) *kel.Event { return f.icp },
			wantErr: errors.ErrSequenceMismatch,
		},
		"rotation of an unknown identifier": {
			state:   kel.State{},
			event:   func(t *testing.T) *kel.Event { return f.rotation(t, incepted) },
			wantErr: errors.ErrSequenceMismatch,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			before := tc.state.Copy()
			next, err := tc.state.Apply(tc.event(t))
			assert.IsErr(t, tc.wantErr, err)
			// The receiver is never modified.
			assert.Equal(t, before, tc.state)
			if tc.wantErr != nil {
				assert.Equal(t, before, next)
				if !errors.IsStructural(err) {
					t.Fatalf("ordering errors must be structural: %v", err)
				}
			}
		})
	}
}

func TestRotationInstallsCommitments(t *testing.T) {
	f := newFixture(t)
	incepted := f.incepted(t)
	rotated, err := incepted.Apply(f.rotation(t, incepted))
	assert.Nil(t, err)

	assert.Equal(t, uint64(1), rotated.Sequence)
	assert.Equal(t, uint64(1), rotated.Establishment)
	assert.Equal(t, gkeltest.PublicKeys(f.next), rotated.Keys)
	assert.Equal(t, gkeltest.Commitments(t, f.after), rotated.NextKeys)
	if !rotated.Threshold.Equal(gkeltest.Threshold(t, "1/2")) {
		t.Fatalf("rotation must use the committed threshold, got %s", rotated.Threshold)
	}
	if !rotated.NextThreshold.Equal(gkeltest.Threshold(t, "2")) {
		t.Fatalf("unexpected next threshold %s", rotated.NextThreshold)
	}

	ixn, err := kel.Interact(rotated, []kel.Seal{{Prefix: "child", Digest: gkeltest.Digest(t, "child")}}, "")
	assert.Nil(t, err)
	interacted, err := rotated.Apply(ixn)
	assert.Nil(t, err)
	assert.Equal(t, uint64(2), interacted.Sequence)
	assert.Equal(t, uint64(1), interacted.Establishment)
	assert.Equal(t, rotated.Keys, interacted.Keys)
	assert.Equal(t, kel.Interaction, interacted.Type)
}

func TestSequencer(t *testing.T) {
	seq, prior := kel.NextExpected(kel.State{})
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, crypto.Digest(""), prior)

	f := newFixture(t)
	s := f.incepted(t)
	seq, prior = kel.NextExpected(s)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, f.icp.Digest, prior)

	rot := f.rotation(t, s)
	assert.Nil(t, kel.Validate(rot, s))

	late := rot.Copy()
	late.Sequence = 5
	err := kel.Validate(late, s)
	if !kel.IsOutOfOrder(err) {
		t.Fatalf("want out of order error, got %v", err)
	}
	if kel.IsOutOfOrder(errors.ErrTimeout) {
		t.Fatal("timeout is not an ordering error")
	}
}

func TestSignature(t *testing.T) {
	key := gkeltest.SeededKey(t, "signer")
	d := gkeltest.Digest(t, "event")
	sig := kel.Sign(key, 0, d)
	if !sig.Verify(key.PublicKey(), d) {
		t.Fatal("signature must verify")
	}
	if sig.Verify(key.PublicKey(), gkeltest.Digest(t, "other")) {
		t.Fatal("signature must not verify another digest")
	}
	if sig.Verify(gkeltest.SeededKey(t, "other").PublicKey(), d) {
		t.Fatal("signature must not verify with another key")
	}
}

func TestLog(t *testing.T) {
	db := store.MemStore()
	log := kel.NewLog()
	f := newFixture(t)

	_, err := log.State(db, f.icp.Prefix)
	assert.IsErr(t, errors.ErrNotFound, err)

	s, err := log.Append(db, &kel.SignedEvent{Event: f.icp})
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), s.Sequence)

	// Appending the same event again is a no-op.
	again, err := log.Append(db, &kel.SignedEvent{Event: f.icp})
	assert.Nil(t, err)
	assert.Equal(t, s, again)

	rot := f.rotation(t, s)
	s, err = log.Append(db, &kel.SignedEvent{Event: rot})
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), s.Sequence)

	// A different event at an accepted position is a fork.
	fork, err := kel.Interact(f.incepted(t), nil, "")
	assert.Nil(t, err)
	_, err = log.Append(db, &kel.SignedEvent{Event: fork})
	assert.IsErr(t, errors.ErrDigestMismatch, err)

	stored, err := log.State(db, f.icp.Prefix)
	assert.Nil(t, err)
	assert.Equal(t, s, stored)

	events, err := log.Events(db, f.icp.Prefix, 1)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(events))
	assert.Equal(t, rot.Digest, events[0].Event.Digest)

	snap, err := log.Snapshot(db, f.icp.Prefix)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(snap.Events))
	assert.Equal(t, rot.Digest, snap.Latest().Event.Digest)
}

func TestSnapshotAnchors(t *testing.T) {
	f := newFixture(t)
	s := f.incepted(t)
	seal := kel.Seal{Prefix: "child", Sequence: 0, Digest: gkeltest.Digest(t, "child")}
	ixn, err := kel.Interact(s, []kel.Seal{seal}, "")
	assert.Nil(t, err)

	snap := &kel.Snapshot{
		State:  s,
		Events: []kel.SignedEvent{{Event: f.icp}, {Event: ixn}},
	}
	if !snap.Anchors(seal) {
		t.Fatal("seal must be found")
	}
	other := seal
	other.Digest = gkeltest.Digest(t, "other")
	if snap.Anchors(other) {
		t.Fatal("seal with another digest must not be found")
	}

	c := snap.Copy()
	c.Events[1].Event.Anchors[0].Prefix = "changed"
	if !snap.Anchors(seal) {
		t.Fatal("copy must not share memory")
	}
}

func TestSnapshotStateAt(t *testing.T) {
	f := newFixture(t)
	db := store.MemStore()
	log := kel.NewLog()

	s, err := log.Append(db, &kel.SignedEvent{Event: f.icp})
	assert.Nil(t, err)
	incepted := s
	s, err = log.Append(db, &kel.SignedEvent{Event: f.rotation(t, s)})
	assert.Nil(t, err)

	snap, err := log.Snapshot(db, f.icp.Prefix)
	assert.Nil(t, err)

	at0, err := snap.StateAt(0)
	assert.Nil(t, err)
	assert.Equal(t, incepted, at0)

	at1, err := snap.StateAt(1)
	assert.Nil(t, err)
	assert.Equal(t, s, at1)

	_, err = snap.StateAt(2)
	assert.IsErr(t, errors.ErrNotYetVisible, err)
}
