package aggregate

import (
	"testing"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/store"
	"github.com/iov-one/gkel/x/kel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupInception(t *testing.T, keys []*crypto.PrivateKey, threshold gkel.Threshold) *kel.Event {
	t.Helper()
	ev, err := kel.Incept(kel.InceptionArgs{
		Keys:      gkeltest.PublicKeys(keys),
		Threshold: threshold,
	})
	require.NoError(t, err)
	return ev
}

func TestTwoOfThree(t *testing.T) {
	db := store.MemStore()
	agg := NewAggregator(nil)
	keys := gkeltest.SeededKeys(t, "member", 3)
	ev := groupInception(t, keys, gkeltest.Threshold(t, "2/3"))

	id, err := agg.Propose(db, ev, ev.Keys, *ev.Threshold)
	require.NoError(t, err)
	assert.Equal(t, ev.Digest, id)

	state, err := agg.AddSignature(db, id, kel.Sign(keys[0], 0, id))
	require.NoError(t, err)
	assert.Equal(t, Pending, state.Status)

	_, err = agg.Assemble(db, id)
	assert.True(t, errors.ErrThresholdNotMet.Is(err), "%+v", err)
	assert.True(t, errors.IsRecoverable(err))

	state, err = agg.AddSignature(db, id, kel.Sign(keys[2], 2, id))
	require.NoError(t, err)
	assert.Equal(t, Satisfied, state.Status)
	assert.Equal(t, []int{0, 2}, state.Signers)

	signed, err := agg.Assemble(db, id)
	require.NoError(t, err)
	assert.Len(t, signed.Signatures, 2)
	require.NoError(t, Verify(ev.Keys, *ev.Threshold, ev.Digest, signed.Signatures))

	// The third signature arriving late does not change anything.
	state, err = agg.AddSignature(db, id, kel.Sign(keys[1], 1, id))
	require.NoError(t, err)
	assert.Equal(t, Assembled, state.Status)
	assert.Equal(t, []int{0, 2}, state.Signers)

	again, err := agg.Assemble(db, id)
	require.NoError(t, err)
	assert.Equal(t, signed, again)

	// Removing a signature necessary for the threshold must fail.
	err = Verify(ev.Keys, *ev.Threshold, ev.Digest, signed.Signatures[:1])
	assert.True(t, errors.ErrThresholdNotMet.Is(err))
}

func TestAddSignatureRejections(t *testing.T) {
	keys := gkeltest.SeededKeys(t, "member", 2)
	ev := groupInception(t, keys, gkeltest.Weighted(t, "1/2", "1/2"))
	stranger := gkeltest.SeededKey(t, "stranger")
	other := gkeltest.Digest(t, "forked proposal")

	cases := map[string]struct {
		sig     kel.Signature
		wantErr *errors.Error
		want    Status
	}{
		"valid signature": {
			sig:  kel.Sign(keys[1], 1, ev.Digest),
			want: Pending,
		},
		"signature over another digest": {
			sig:     kel.Sign(keys[1], 1, other),
			wantErr: errors.ErrSignatureMismatch,
			want:    Pending,
		},
		"signature of a stranger": {
			sig:     kel.Sign(stranger, 1, ev.Digest),
			wantErr: errors.ErrInvalidSignature,
			want:    Pending,
		},
		"signature with an index out of range": {
			sig:     kel.Sign(keys[1], 7, ev.Digest),
			wantErr: errors.ErrInvalidSignature,
			want:    Pending,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			db := store.MemStore()
			agg := NewAggregator(nil)
			id, err := agg.Propose(db, ev, ev.Keys, *ev.Threshold)
			require.NoError(t, err)

			state, err := agg.AddSignature(db, id, tc.sig)
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.True(t, tc.wantErr.Is(err), "%+v", err)
				assert.True(t, errors.IsRejected(err))
			}
			assert.Equal(t, tc.want, state.Status)

			// A rejected contribution does not prevent the proposal from
			// reaching quorum with other signatures.
			for i, k := range keys {
				_, err := agg.AddSignature(db, id, kel.Sign(k, i, id))
				require.NoError(t, err)
			}
			_, err = agg.Assemble(db, id)
			require.NoError(t, err)
		})
	}
}

func TestDuplicateSignatureIsNoop(t *testing.T) {
	db := store.MemStore()
	agg := NewAggregator(nil)
	keys := gkeltest.SeededKeys(t, "member", 3)
	ev := groupInception(t, keys, gkeltest.Threshold(t, "2"))
	id, err := agg.Propose(db, ev, ev.Keys, *ev.Threshold)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		state, err := agg.AddSignature(db, id, kel.Sign(keys[1], 1, id))
		require.NoError(t, err)
		assert.Equal(t, []int{1}, state.Signers)
		assert.Equal(t, Pending, state.Status)
	}
	p, err := agg.Get(db, id)
	require.NoError(t, err)
	assert.Len(t, p.Signatures, 1)

	// Proposing again keeps collected signatures.
	again, err := agg.Propose(db, ev, ev.Keys, *ev.Threshold)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	p, err = agg.Get(db, id)
	require.NoError(t, err)
	assert.Len(t, p.Signatures, 1)
}

func TestWeightedThreshold(t *testing.T) {
	keys := gkeltest.SeededKeys(t, "member", 3)
	th := gkeltest.Weighted(t, "2/3", "1/2", "1/2")
	ev := groupInception(t, keys, th)

	cases := map[string]struct {
		signers []int
		wantErr *errors.Error
	}{
		"heavy and light member":  {signers: []int{0, 1}},
		"two light members":       {signers: []int{1, 2}},
		"heavy member alone":      {signers: []int{0}, wantErr: errors.ErrThresholdNotMet},
		"light member alone":      {signers: []int{2}, wantErr: errors.ErrThresholdNotMet},
		"everyone":                {signers: []int{0, 1, 2}},
		"no signatures collected": {signers: nil, wantErr: errors.ErrThresholdNotMet},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			var sigs []kel.Signature
			for _, i := range tc.signers {
				sigs = append(sigs, kel.Sign(keys[i], i, ev.Digest))
			}
			err := Verify(ev.Keys, th, ev.Digest, sigs)
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.True(t, tc.wantErr.Is(err), "%+v", err)
			}
		})
	}
}

func TestSigningKeys(t *testing.T) {
	keys := gkeltest.SeededKeys(t, "member", 2)
	ev := groupInception(t, keys, gkeltest.Threshold(t, "2"))

	got, th, err := SigningKeys(ev, kel.State{})
	require.NoError(t, err)
	assert.Equal(t, ev.Keys, got)
	assert.True(t, th.Equal(*ev.Threshold))

	s, err := kel.State{}.Apply(ev)
	require.NoError(t, err)
	ixn, err := kel.Interact(s, nil, "")
	require.NoError(t, err)
	got, _, err = SigningKeys(ixn, s)
	require.NoError(t, err)
	assert.Equal(t, s.Keys, got)

	_, _, err = SigningKeys(ixn, kel.State{})
	assert.True(t, errors.ErrState.Is(err))
}

func TestPayloadProposal(t *testing.T) {
	db := store.MemStore()
	agg := NewAggregator(nil)
	keys := gkeltest.SeededKeys(t, "member", 2)
	th := gkeltest.Weighted(t, "1/2", "1/2")
	d := gkeltest.Digest(t, "endpoint reply")

	id, err := agg.ProposePayload(db, d, []byte(`{"role":"agent"}`), gkeltest.PublicKeys(keys), th)
	require.NoError(t, err)
	assert.Equal(t, d, id)

	_, err = agg.AddSignature(db, id, kel.Sign(keys[0], 0, id))
	require.NoError(t, err)
	_, err = agg.Collect(db, id)
	assert.True(t, errors.ErrThresholdNotMet.Is(err))

	_, err = agg.AddSignature(db, id, kel.Sign(keys[1], 1, id))
	require.NoError(t, err)
	sigs, err := agg.Collect(db, id)
	require.NoError(t, err)
	require.NoError(t, Verify(gkeltest.PublicKeys(keys), th, d, sigs))

	_, err = agg.Assemble(db, id)
	assert.True(t, errors.ErrHuman.Is(err))
}
