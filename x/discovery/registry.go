package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/aggregate"
	"github.com/iov-one/gkel/x/witness"
)

// Registry publishes and resolves endpoint authorizations.
type Registry interface {
	Publish(ctx context.Context, sr *SignedReply) error
	// Resolve returns the endpoints authorized for a role of an
	// identifier. ErrNotFound is returned if there is none.
	Resolve(ctx context.Context, prefix, role string) ([]string, error)
}

// MemRegistry is an in-process registry. It is safe for concurrent use.
type MemRegistry struct {
	mu      sync.Mutex
	network witness.Network
	ends    map[endKey]*Reply
	logger  gkel.Logger
}

type endKey struct {
	prefix, role, eid string
}

var _ Registry = (*MemRegistry)(nil)

// NewMemRegistry returns a registry that verifies replies against the key
// states of given network.
func NewMemRegistry(network witness.Network, logger gkel.Logger) *MemRegistry {
	return &MemRegistry{
		network: network,
		ends:    make(map[endKey]*Reply),
		logger:  gkel.LoggerOrDefault(logger).With("module", "discovery"),
	}
}

// Publish implements Registry. The reply must be signed by the current
// signing threshold of the identifier. A reply older than the one already
// published for the same endpoint is rejected.
func (r *MemRegistry) Publish(ctx context.Context, sr *SignedReply) error {
	if sr == nil || sr.Reply == nil {
		return errors.Wrap(errors.ErrEmpty, "reply")
	}
	rpy := sr.Reply
	if err := rpy.Validate(); err != nil {
		return err
	}
	if err := rpy.VerifyDigest(); err != nil {
		return err
	}
	snap, err := r.network.Query(ctx, rpy.Prefix, 0)
	if err != nil {
		return errors.Wrap(err, "key state")
	}
	if err := aggregate.Verify(snap.State.Keys, snap.State.Threshold, rpy.Digest, sr.Signatures); err != nil {
		return errors.Wrapf(err, "reply of %s", rpy.Prefix)
	}

	key := endKey{prefix: rpy.Prefix, role: rpy.Role, eid: rpy.EndpointID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.ends[key]; ok {
		if old.Timestamp > rpy.Timestamp {
			return errors.Wrapf(errors.ErrState, "stale reply, published %s", old.Timestamp)
		}
		if old.Digest == rpy.Digest {
			return nil
		}
	}
	c := *rpy
	r.ends[key] = &c
	r.logger.Info("end role authorized", "prefix", rpy.Prefix, "role", rpy.Role, "eid", rpy.EndpointID)
	return nil
}

// Resolve implements Registry.
func (r *MemRegistry) Resolve(ctx context.Context, prefix, role string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var eids []string
	for k := range r.ends {
		if k.prefix == prefix && k.role == role {
			eids = append(eids, k.eid)
		}
	}
	if len(eids) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no %s endpoint for %s", role, prefix)
	}
	sort.Strings(eids)
	return eids, nil
}
