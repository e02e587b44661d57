package store

import (
	"github.com/iov-one/gkel/errors"
)

type opKind int32

const (
	setKind opKind = iota + 1
	delKind
)

// Op is either set or delete
type Op struct {
	kind  opKind
	key   []byte
	value []byte // only for set
}

// Apply performs this operation on given store.
func (o Op) Apply(out SetDeleter) error {
	switch o.kind {
	case setKind:
		return out.Set(o.key, o.value)
	case delKind:
		return out.Delete(o.key)
	default:
		return errors.Wrapf(errors.ErrDatabase, "unknown op kind: %d", o.kind)
	}
}

// nonAtomicBatch just piles up ops and executes them later on the
// underlying store. It is used by cache wraps that write into another
// in-memory layer.
type nonAtomicBatch struct {
	out SetDeleter
	ops []Op
}

var _ Batch = (*nonAtomicBatch)(nil)

func newNonAtomicBatch(out SetDeleter) *nonAtomicBatch {
	return &nonAtomicBatch{out: out}
}

func (b *nonAtomicBatch) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, Op{kind: setKind, key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (b *nonAtomicBatch) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, Op{kind: delKind, key: copyBytes(key)})
	return nil
}

// Write writes all the ops to the underlying store and resets
func (b *nonAtomicBatch) Write() error {
	for _, op := range b.ops {
		if err := op.Apply(b.out); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
