package store

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/iov-one/gkel/errors"
)

// cacheWrap places a btree cache over a KVStore. Deletes are recorded as
// tombstones so that they hide the values of the backing store.
type cacheWrap struct {
	mu   sync.RWMutex
	bt   *btree.BTree
	back KVStore
}

var _ KVCacheWrap = (*cacheWrap)(nil)

func newCacheWrap(back KVStore) *cacheWrap {
	return &cacheWrap{
		bt:   btree.New(degree),
		back: back,
	}
}

// CacheWrap layers another cache on top of this one.
func (c *cacheWrap) CacheWrap() KVCacheWrap {
	return newCacheWrap(c)
}

// NewBatch returns a non-atomic batch that eventually may write to this
// cache.
func (c *cacheWrap) NewBatch() Batch {
	return newNonAtomicBatch(c)
}

// Write flushes all cached changes to the backing store using a single
// batch and then cleans up.
func (c *cacheWrap) Write() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.back.NewBatch()
	var err error
	c.bt.Ascend(func(item btree.Item) bool {
		switch t := item.(type) {
		case setItem:
			err = batch.Set(t.key, t.value)
		case deletedItem:
			err = batch.Delete(t.key)
		}
		return err == nil
	})
	if err != nil {
		return errors.Wrap(err, "cache batch")
	}
	if err := batch.Write(); err != nil {
		return err
	}
	c.bt.Clear(false)
	return nil
}

// Discard drops all cached changes.
func (c *cacheWrap) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bt.Clear(false)
}

func (c *cacheWrap) Set(key, value []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bt.ReplaceOrInsert(newSetItem(key, value))
	return nil
}

func (c *cacheWrap) Delete(key []byte) error {
	if key == nil {
		return errors.Wrap(errors.ErrInput, "nil key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bt.ReplaceOrInsert(newDeletedItem(copyBytes(key)))
	return nil
}

// Get reads from the cache if there, else the backing store.
func (c *cacheWrap) Get(key []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.Wrap(errors.ErrInput, "nil key")
	}
	c.mu.RLock()
	res := c.bt.Get(bkey{key})
	c.mu.RUnlock()
	switch t := res.(type) {
	case nil:
		return c.back.Get(key)
	case setItem:
		return copyBytes(t.value), nil
	case deletedItem:
		return nil, nil
	default:
		return nil, errors.Wrapf(errors.ErrDatabase, "unknown item in btree: %#v", res)
	}
}

func (c *cacheWrap) Has(key []byte) (bool, error) {
	val, err := c.Get(key)
	if err != nil {
		return false, err
	}
	return val != nil, nil
}

func (c *cacheWrap) Iterator(start, end []byte) (Iterator, error) {
	models, err := c.merged(start, end)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(models), nil
}

func (c *cacheWrap) ReverseIterator(start, end []byte) (Iterator, error) {
	models, err := c.merged(start, end)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(reversed(models)), nil
}

// merged combines cached changes with the content of the backing store,
// taking into consideration overwrites and deletes.
func (c *cacheWrap) merged(start, end []byte) ([]Model, error) {
	parentIt, err := c.back.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	parent, err := ReadAll(parentIt)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	ours := collect(c.bt, start, end)
	c.mu.RUnlock()

	res := make([]Model, 0, len(parent)+len(ours))
	var i, j int
	for i < len(parent) || j < len(ours) {
		if j >= len(ours) {
			res = append(res, parent[i])
			i++
			continue
		}
		ourKey := ours[j].(keyer).Key()
		if i < len(parent) {
			cmp := bytes.Compare(parent[i].Key, ourKey)
			if cmp < 0 {
				res = append(res, parent[i])
				i++
				continue
			}
			if cmp == 0 {
				// Our change shadows the parent value.
				i++
			}
		}
		if s, ok := ours[j].(setItem); ok {
			res = append(res, Model{Key: copyBytes(s.key), Value: copyBytes(s.value)})
		}
		j++
	}
	return res, nil
}
