package gkel

import (
	"encoding/json"

	"github.com/iov-one/gkel/errors"
)

// Options are the member options, usually read from a JSON file.
// Each package can look up its key and parse the json as desired.
type Options map[string]json.RawMessage

// ReadOptions reads the values stored under a given key,
// and parses the json into the given obj.
// Returns an error if it cannot parse.
// Noop and no error if key is missing
func (o Options) ReadOptions(key string, obj interface{}) error {
	msg := o[key]
	if len(msg) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg, obj); err != nil {
		return errors.Wrapf(errors.ErrInput, "option %q: %s", key, err)
	}
	return nil
}

// Initializer implementations are used to initialize packages from the
// member options, usually by storing their configuration.
type Initializer interface {
	FromOptions(Options, KVStore) error
}
