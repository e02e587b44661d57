package store

import (
	"sync"

	"github.com/google/btree"
	"github.com/iov-one/gkel/errors"
)

const (
	// DefaultFreeListSize is the size we hold for free node in btree
	DefaultFreeListSize = btree.DefaultFreeListSize

	degree = 2
)

// MemDB is a btree backed KVStore. It is safe for concurrent use.
type MemDB struct {
	mu sync.RWMutex
	bt *btree.BTree
}

var _ CacheableKVStore = (*MemDB)(nil)

// MemStore returns an empty in-memory store. There is no persistence.
func MemStore() *MemDB {
	return &MemDB{
		bt: btree.NewWithFreeList(degree, btree.NewFreeList(DefaultFreeListSize)),
	}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if res := m.bt.Get(bkey{key}); res != nil {
		return copyBytes(res.(setItem).value), nil
	}
	return nil, nil
}

func (m *MemDB) Has(key []byte) (bool, error) {
	if key == nil {
		return false, errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bt.Has(bkey{key}), nil
}

func (m *MemDB) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bt.ReplaceOrInsert(newSetItem(key, value))
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bt.Delete(bkey{key})
	return nil
}

func (m *MemDB) Iterator(start, end []byte) (Iterator, error) {
	return newSliceIterator(m.models(start, end)), nil
}

func (m *MemDB) ReverseIterator(start, end []byte) (Iterator, error) {
	return newSliceIterator(reversed(m.models(start, end))), nil
}

func (m *MemDB) models(start, end []byte) []Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := collect(m.bt, start, end)
	res := make([]Model, len(items))
	for i, it := range items {
		s := it.(setItem)
		res[i] = Model{Key: copyBytes(s.key), Value: copyBytes(s.value)}
	}
	return res
}

// NewBatch returns a batch that applies all its operations while holding
// the store lock, so readers never observe a partially written batch.
func (m *MemDB) NewBatch() Batch {
	return &memBatch{db: m}
}

// CacheWrap returns a scratch-pad over this store.
func (m *MemDB) CacheWrap() KVCacheWrap {
	return newCacheWrap(m)
}

type memBatch struct {
	db  *MemDB
	ops []Op
}

func (b *memBatch) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, Op{kind: setKind, key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	b.ops = append(b.ops, Op{kind: delKind, key: copyBytes(key)})
	return nil
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		switch op.kind {
		case setKind:
			b.db.bt.ReplaceOrInsert(newSetItem(op.key, op.value))
		case delKind:
			b.db.bt.Delete(bkey{op.key})
		default:
			return errors.Wrapf(errors.ErrDatabase, "unknown op kind: %d", op.kind)
		}
	}
	b.ops = nil
	return nil
}
