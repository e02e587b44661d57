/*
Package store provides the in-memory member database and the cache wrap used
to apply a group state transition atomically.

MemStore returns a btree backed CacheableKVStore that is safe for concurrent
use. CacheWrap layers a scratch-pad over any store: reads see the cached
writes, Write flushes them through a single batch and Discard drops them.
*/
package store
