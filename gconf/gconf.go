package gconf

import (
	"encoding/json"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
)

// ReadStore is a subset of gkel.ReadOnlyKVStore.
type ReadStore interface {
	Get([]byte) ([]byte, error)
}

// Store is a subset of gkel.KVStore.
type Store interface {
	ReadStore
	Set([]byte, []byte) error
}

// Configuration is implemented by every configuration type. It is
// serialized as JSON.
type Configuration interface {
	Validate() error
}

func key(pkg string) []byte {
	return []byte("_c:" + pkg)
}

// Save will Validate the object, before writing it to a special "configuration"
// singleton for that package name.
func Save(db Store, pkg string, src Configuration) error {
	k := key(pkg)
	if err := src.Validate(); err != nil {
		return errors.Wrapf(err, "validation: key %q", k)
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return errors.Wrapf(errors.ErrInput, "marshal: key %q: %s", k, err)
	}
	return db.Set(k, raw)
}

// Load reads the configuration of given package into dst.
func Load(db ReadStore, pkg string, dst Configuration) error {
	k := key(pkg)
	raw, err := db.Get(k)
	if err != nil {
		return err
	}
	if raw == nil {
		return errors.Wrapf(errors.ErrNotFound, "key %q", k)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrapf(errors.ErrDatabase, "unmarshal: key %q: %s", k, err)
	}
	return nil
}

// InitConfig will take opts["conf"][pkg], parse it into the given Configuration object
// validate it, and store under the proper key in the database
// Returns an error if anything goes wrong
func InitConfig(db Store, opts gkel.Options, pkg string, conf Configuration) error {
	var confOptions gkel.Options
	if err := opts.ReadOptions("conf", &confOptions); err != nil {
		return errors.Wrap(err, "read conf")
	}
	if confOptions[pkg] == nil {
		return errors.Wrapf(errors.ErrNotFound, "no configuration for %q package", pkg)
	}
	if err := confOptions.ReadOptions(pkg, conf); err != nil {
		return errors.Wrapf(err, "read configuration for %s", pkg)
	}
	if err := Save(db, pkg, conf); err != nil {
		return errors.Wrapf(err, "save configuration for %s", pkg)
	}
	return nil
}
