package orm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
)

var isBucketName = regexp.MustCompile(`^[a-z_]{3,10}$`).MatchString

// Model is implemented by any entity that can be stored using ModelBucket.
type Model interface {
	Validate() error
}

// ModelBucket is a prefixed subspace of the database that holds models of
// a single type.
type ModelBucket struct {
	name   string
	prefix []byte
	model  reflect.Type
}

// NewModelBucket returns a bucket that stores models of the same type as
// given instance. Name must be a short lower case identifier and is used as
// the key prefix.
func NewModelBucket(name string, m Model) ModelBucket {
	if !isBucketName(name) {
		panic(fmt.Sprintf("Illegal bucket: %s", name))
	}
	tp := reflect.TypeOf(m)
	if tp.Kind() == reflect.Ptr {
		tp = tp.Elem()
	}
	return ModelBucket{
		name:   name,
		prefix: append([]byte(name), ':'),
		model:  tp,
	}
}

// Name returns the name of this bucket.
func (b ModelBucket) Name() string {
	return b.name
}

// DBKey is the full key we store in the db, including prefix
// We copy into a new array rather than use append, as we don't
// want consecutive calls to overwrite the same byte array.
func (b ModelBucket) DBKey(key []byte) []byte {
	l := len(b.prefix)
	out := make([]byte, l+len(key))
	copy(out, b.prefix)
	copy(out[l:], key)
	return out
}

// One query the database for a single model instance. Lookup is done by the
// primary key. Result is loaded into given destination model.
// This method returns ErrNotFound if the entity does not exist in the
// database.
func (b ModelBucket) One(db gkel.ReadOnlyKVStore, key []byte, dest Model) error {
	if err := b.checkType(dest); err != nil {
		return err
	}
	raw, err := db.Get(b.DBKey(key))
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	if raw == nil {
		return errors.Wrapf(errors.ErrNotFound, "%s %q", b.name, key)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrapf(errors.ErrDatabase, "unmarshal %s: %s", b.name, err)
	}
	return nil
}

// Has returns true if an entity with given primary key exists.
func (b ModelBucket) Has(db gkel.ReadOnlyKVStore, key []byte) (bool, error) {
	return db.Has(b.DBKey(key))
}

// Put saves given model in the database.
func (b ModelBucket) Put(db gkel.KVStore, key []byte, m Model) error {
	if len(key) == 0 {
		return errors.Wrap(errors.ErrEmpty, "key")
	}
	if err := b.checkType(m); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "invalid model")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabase, "marshal %s: %s", b.name, err)
	}
	if err := db.Set(b.DBKey(key), raw); err != nil {
		return errors.Wrap(err, "cannot store in the database")
	}
	return nil
}

// Delete removes an entity with given primary key from the database.
// It returns ErrNotFound if an entity with given key does not exist.
func (b ModelBucket) Delete(db gkel.KVStore, key []byte) error {
	ok, err := b.Has(db, key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "%s %q", b.name, key)
	}
	return db.Delete(b.DBKey(key))
}

// ByPrefix loads all models which primary key starts with given prefix into
// dest, which must be a pointer to a slice of models. Primary keys are
// returned in the same order. Use a nil prefix to load everything.
func (b ModelBucket) ByPrefix(db gkel.ReadOnlyKVStore, prefix []byte, dest interface{}) ([][]byte, error) {
	slice := reflect.ValueOf(dest)
	if slice.Kind() != reflect.Ptr || slice.Elem().Kind() != reflect.Slice {
		return nil, errors.Wrapf(errors.ErrHuman, "destination must be a pointer to a slice, got %T", dest)
	}
	elemTp := slice.Elem().Type().Elem()
	isPtr := elemTp.Kind() == reflect.Ptr
	if isPtr {
		elemTp = elemTp.Elem()
	}
	if elemTp != b.model {
		return nil, errors.Wrapf(errors.ErrHuman, "%s bucket cannot load %T", b.name, dest)
	}

	start := b.DBKey(prefix)
	it, err := db.Iterator(start, prefixEnd(start))
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	defer it.Release()

	var keys [][]byte
	for {
		k, v, err := it.Next()
		if errors.ErrIteratorDone.Is(err) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, err.Error())
		}
		ptr := reflect.New(elemTp)
		if err := json.Unmarshal(v, ptr.Interface()); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabase, "unmarshal %s: %s", b.name, err)
		}
		if isPtr {
			slice.Elem().Set(reflect.Append(slice.Elem(), ptr))
		} else {
			slice.Elem().Set(reflect.Append(slice.Elem(), ptr.Elem()))
		}
		keys = append(keys, k[len(b.prefix):])
	}
	return keys, nil
}

func (b ModelBucket) checkType(m Model) error {
	tp := reflect.TypeOf(m)
	if tp == nil || tp.Kind() != reflect.Ptr || tp.Elem() != b.model {
		return errors.Wrapf(errors.ErrHuman, "%s bucket cannot handle %T", b.name, m)
	}
	return nil
}

// prefixEnd returns the smallest key that is greater than all keys starting
// with given prefix. It returns nil if there is no such key.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
