package store

import "github.com/iov-one/gkel"

// Move references for all storage types into this package
// for shorter names everywhere

type (
	ReadOnlyKVStore  = gkel.ReadOnlyKVStore
	SetDeleter       = gkel.SetDeleter
	KVStore          = gkel.KVStore
	Batch            = gkel.Batch
	Iterator         = gkel.Iterator
	CacheableKVStore = gkel.CacheableKVStore
	KVCacheWrap      = gkel.KVCacheWrap
)

// Model is a key value pair.
type Model struct {
	Key   []byte
	Value []byte
}
