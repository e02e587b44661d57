package crypto

import (
	"crypto/rand"

	"github.com/iov-one/gkel/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/ed25519"
)

const keyHRP = "key"

// PublicKey is a qualified Ed25519 public key.
type PublicKey string

// NewPublicKey qualifies given raw Ed25519 public key.
func NewPublicKey(raw ed25519.PublicKey) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return "", errors.Wrapf(errors.ErrInput, "public key length %d", len(raw))
	}
	q, err := Qualify(keyHRP, raw)
	if err != nil {
		return "", err
	}
	return PublicKey(q), nil
}

// Raw returns the Ed25519 public key.
func (p PublicKey) Raw() (ed25519.PublicKey, error) {
	hrp, payload, err := Unqualify(string(p))
	if err != nil {
		return nil, err
	}
	if hrp != keyHRP {
		return nil, errors.Wrapf(errors.ErrInput, "not a public key: %q", hrp)
	}
	if len(payload) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(errors.ErrInput, "public key length %d", len(payload))
	}
	return ed25519.PublicKey(payload), nil
}

// Validate returns an error if this is not a well formed public key.
func (p PublicKey) Validate() error {
	if p == "" {
		return errors.Wrap(errors.ErrEmpty, "public key")
	}
	_, err := p.Raw()
	return err
}

// Verify returns true if sig is a valid signature of message made by the
// owner of this key.
func (p PublicKey) Verify(message, sig []byte) bool {
	raw, err := p.Raw()
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(raw, message, sig)
}

// Commitment returns the digest of this key. A commitment is published in an
// establishment event to pre-rotate to this key without revealing it.
func (p PublicKey) Commitment(alg Algorithm) (Digest, error) {
	return alg.Digest([]byte(p))
}

// Signer is the functionality we use from a private key.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() PublicKey
}

// PrivateKey is an Ed25519 private key.
type PrivateKey struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

var _ Signer = (*PrivateKey)(nil)

// Sign returns a matching signature for this private key.
func (p *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(p.priv, message)
}

// PublicKey returns the qualified public key.
func (p *PrivateKey) PublicKey() PublicKey {
	return p.pub
}

// GenPrivateKey returns a random new private key.
func GenPrivateKey() (*PrivateKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.Wrapf(errors.ErrState, "random: %s", err)
	}
	return PrivateKeyFromSeed(seed)
}

// PrivateKeyFromSeed will deterministically generate a private key from a
// given seed. Use if you have a strong source of external randomness, or for
// deterministic keys in test cases.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Wrapf(errors.ErrInput, "seed length %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := NewPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{priv: priv, pub: pub}, nil
}

// Salter derives key pairs from a secret salt and a path. The same salt and
// path always produce the same key, which allows a member to recreate the
// pre-rotated key set it committed to.
type Salter struct {
	salt []byte
	// Cost parameters of the argon2id function.
	time, memory uint32
}

// NewSalter returns a salter using given secret. The salt must be at least
// 16 bytes long.
func NewSalter(salt []byte) (*Salter, error) {
	if len(salt) < 16 {
		return nil, errors.Wrap(errors.ErrInput, "salt too short")
	}
	s := make([]byte, len(salt))
	copy(s, salt)
	return &Salter{salt: s, time: 1, memory: 8 * 1024}, nil
}

// RandomSalter returns a salter with a new random salt.
func RandomSalter() (*Salter, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrapf(errors.ErrState, "random: %s", err)
	}
	return NewSalter(salt)
}

// Derive returns the private key for given path.
func (s *Salter) Derive(path string) (*PrivateKey, error) {
	seed := argon2.IDKey([]byte(path), s.salt, s.time, s.memory, 1, ed25519.SeedSize)
	return PrivateKeyFromSeed(seed)
}
