package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/gkeltest"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/witness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// group incepts a two member identifier on the pool.
func group(t *testing.T, pool *witness.Pool) (string, []*crypto.PrivateKey) {
	t.Helper()
	keys := gkeltest.SeededKeys(t, "member", 2)
	ev, err := kel.Incept(kel.InceptionArgs{
		Keys:      gkeltest.PublicKeys(keys),
		Threshold: gkeltest.Weighted(t, "1/2", "1/2"),
	})
	require.NoError(t, err)
	se := &kel.SignedEvent{Event: ev, Signatures: sign(keys, ev.Digest)}
	require.NoError(t, pool.Submit(context.Background(), se))
	return ev.Prefix, keys
}

func sign(keys []*crypto.PrivateKey, d crypto.Digest) []kel.Signature {
	sigs := make([]kel.Signature, len(keys))
	for i, k := range keys {
		sigs[i] = kel.Sign(k, i, d)
	}
	return sigs
}

func TestReplyDigest(t *testing.T) {
	ts := gkel.AsTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	a, err := NewReply("prefix", RoleAgent, "eid", ts, "")
	require.NoError(t, err)
	b, err := NewReply("prefix", RoleAgent, "eid", ts, "")
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
	require.NoError(t, a.VerifyDigest())

	later, err := NewReply("prefix", RoleAgent, "eid", ts.Add(time.Second), "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, later.Digest)

	a.EndpointID = "other"
	assert.True(t, errors.ErrDigestMismatch.Is(a.VerifyDigest()))

	_, err = NewReply("", RoleAgent, "", ts, "")
	assert.NotEmpty(t, errors.FieldErrors(err, "cid"))
	assert.NotEmpty(t, errors.FieldErrors(err, "eid"))
}

func TestPublishAndResolve(t *testing.T) {
	ctx := context.Background()
	pool := witness.NewPool(nil, 0, nil)
	reg := NewMemRegistry(pool, nil)
	prefix, keys := group(t, pool)
	ts := gkel.AsTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	rpy, err := NewReply(prefix, RoleAgent, "agent-1", ts, "")
	require.NoError(t, err)

	_, err = reg.Resolve(ctx, prefix, RoleAgent)
	assert.True(t, errors.ErrNotFound.Is(err))

	// A single member does not meet the threshold.
	err = reg.Publish(ctx, &SignedReply{Reply: rpy, Signatures: sign(keys[:1], rpy.Digest)})
	assert.True(t, errors.ErrThresholdNotMet.Is(err), "%+v", err)

	sr := &SignedReply{Reply: rpy, Signatures: sign(keys, rpy.Digest)}
	require.NoError(t, reg.Publish(ctx, sr))
	// Every member may publish the same reply.
	require.NoError(t, reg.Publish(ctx, sr))

	eids, err := reg.Resolve(ctx, prefix, RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1"}, eids)

	_, err = reg.Resolve(ctx, prefix, RoleMailbox)
	assert.True(t, errors.ErrNotFound.Is(err))

	older, err := NewReply(prefix, RoleAgent, "agent-1", ts.Add(-time.Hour), "")
	require.NoError(t, err)
	err = reg.Publish(ctx, &SignedReply{Reply: older, Signatures: sign(keys, older.Digest)})
	assert.True(t, errors.ErrState.Is(err), "%+v", err)
}

func TestPublishRejects(t *testing.T) {
	ctx := context.Background()
	pool := witness.NewPool(nil, 0, nil)
	reg := NewMemRegistry(pool, nil)
	prefix, keys := group(t, pool)
	ts := gkel.Now()

	unknown, err := NewReply("unknown", RoleAgent, "agent-1", ts, "")
	require.NoError(t, err)
	err = reg.Publish(ctx, &SignedReply{Reply: unknown, Signatures: sign(keys, unknown.Digest)})
	assert.True(t, errors.ErrNotYetVisible.Is(err), "%+v", err)

	rpy, err := NewReply(prefix, RoleAgent, "agent-1", ts, "")
	require.NoError(t, err)
	forged := *rpy
	forged.EndpointID = "mallory"
	err = reg.Publish(ctx, &SignedReply{Reply: &forged, Signatures: sign(keys, rpy.Digest)})
	assert.True(t, errors.ErrDigestMismatch.Is(err), "%+v", err)

	other, err := NewReply(prefix, RoleAgent, "agent-2", ts, "")
	require.NoError(t, err)
	err = reg.Publish(ctx, &SignedReply{Reply: rpy, Signatures: sign(keys, other.Digest)})
	assert.True(t, errors.ErrSignatureMismatch.Is(err), "%+v", err)
}
