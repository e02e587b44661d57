package identifier

import (
	"sync"

	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// Keeper holds the private keys of a member. It is safe for concurrent use.
type Keeper struct {
	mu     sync.Mutex
	salter *crypto.Salter
	keys   map[crypto.PublicKey]*crypto.PrivateKey
}

// NewKeeper returns a keeper deriving keys with given salter. Keys are
// random when salter is nil.
func NewKeeper(salter *crypto.Salter) *Keeper {
	return &Keeper{
		salter: salter,
		keys:   make(map[crypto.PublicKey]*crypto.PrivateKey),
	}
}

// Create returns a new key for given derivation path and keeps it.
func (k *Keeper) Create(path string) (*crypto.PrivateKey, error) {
	var (
		key *crypto.PrivateKey
		err error
	)
	if k.salter != nil {
		key, err = k.salter.Derive(path)
	} else {
		key, err = crypto.GenPrivateKey()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create key %q", path)
	}

	k.mu.Lock()
	k.keys[key.PublicKey()] = key
	k.mu.Unlock()
	return key, nil
}

// Signer returns the signer of given public key.
func (k *Keeper) Signer(pub crypto.PublicKey) (crypto.Signer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[pub]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no private key for %s", pub)
	}
	return key, nil
}

// Has returns true if the private key of given public key is kept.
func (k *Keeper) Has(pub crypto.PublicKey) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.keys[pub]
	return ok
}
