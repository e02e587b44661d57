package keystate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
	"github.com/iov-one/gkel/x/operation"
	"github.com/iov-one/gkel/x/witness"
)

// DefaultSize is the number of snapshots kept by a cache created with a
// zero size.
const DefaultSize = 1024

// Cache is a bounded cache of key state snapshots. It is safe for
// concurrent use.
type Cache struct {
	network   witness.Network
	snapshots *lru.Cache[string, *kel.Snapshot]
	logger    gkel.Logger
}

// NewCache returns a cache of snapshots fetched from given network.
func NewCache(network witness.Network, size int, logger gkel.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	snapshots, err := lru.New[string, *kel.Snapshot](size)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInput, "snapshot cache: %s", err)
	}
	return &Cache{
		network:   network,
		snapshots: snapshots,
		logger:    gkel.LoggerOrDefault(logger).With("module", "keystate"),
	}, nil
}

// Get returns the snapshot of an identifier that reached at least given
// sequence number. The cached snapshot is used when it is recent enough,
// otherwise the network is queried. ErrNotYetVisible is returned while the
// network did not see the requested sequence number.
func (c *Cache) Get(ctx context.Context, prefix string, minSeq uint64) (*kel.Snapshot, error) {
	if snap, ok := c.snapshots.Get(prefix); ok && snap.State.Sequence >= minSeq {
		return snap.Copy(), nil
	}
	return c.Refresh(ctx, prefix, minSeq)
}

// Refresh always queries the network and replaces the cached snapshot.
func (c *Cache) Refresh(ctx context.Context, prefix string, minSeq uint64) (*kel.Snapshot, error) {
	snap, err := c.network.Query(ctx, prefix, minSeq)
	if err != nil {
		return nil, err
	}
	if snap.State.Prefix != prefix {
		return nil, errors.Wrapf(errors.ErrState, "queried %s, received %s", prefix, snap.State.Prefix)
	}
	if old, ok := c.snapshots.Get(prefix); ok && old.State.Sequence > snap.State.Sequence {
		// A lagging answer never replaces a more recent snapshot.
		return old.Copy(), nil
	}
	c.snapshots.Add(prefix, snap.Copy())
	c.logger.Debug("snapshot replaced", "prefix", prefix, "sn", snap.State.Sequence, "digest", snap.State.Digest)
	return snap, nil
}

// Peek returns the cached snapshot of an identifier without querying the
// network.
func (c *Cache) Peek(prefix string) (*kel.Snapshot, bool) {
	snap, ok := c.snapshots.Peek(prefix)
	if !ok {
		return nil, false
	}
	return snap.Copy(), true
}

// Purge drops the cached snapshot of an identifier.
func (c *Cache) Purge(prefix string) {
	c.snapshots.Remove(prefix)
}

// Query returns an operation that completes with the snapshot of an
// identifier once it reached given sequence number.
func (c *Cache) Query(prefix string, minSeq uint64) operation.Operation {
	name := fmt.Sprintf("keystate.%d.%s", minSeq, uuid.New())
	return operation.Func(name, func(ctx context.Context) (bool, interface{}, error) {
		snap, err := c.Get(ctx, prefix, minSeq)
		if err != nil {
			return false, nil, err
		}
		return true, snap, nil
	})
}
