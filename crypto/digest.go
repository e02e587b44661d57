package crypto

import (
	"github.com/iov-one/gkel/errors"
	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	// Blake3_256 is the default digest algorithm.
	Blake3_256 Algorithm = "blake3-256"
	// Blake2b_256 is supported for logs created by other implementations.
	Blake2b_256 Algorithm = "blake2b-256"
)

// DefaultAlgorithm is used when no algorithm was configured.
const DefaultAlgorithm = Blake3_256

var hrps = map[Algorithm]string{
	Blake3_256:  "b3d",
	Blake2b_256: "b2d",
}

// Validate returns an error if this algorithm is not supported.
func (a Algorithm) Validate() error {
	if _, ok := hrps[a]; !ok {
		return errors.Wrapf(errors.ErrInput, "unsupported digest algorithm %q", a)
	}
	return nil
}

// Sum returns the raw 32 bytes long digest of given data.
func (a Algorithm) Sum(data []byte) ([]byte, error) {
	switch a {
	case Blake3_256:
		sum := blake3.Sum256(data)
		return sum[:], nil
	case Blake2b_256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	default:
		return nil, errors.Wrapf(errors.ErrInput, "unsupported digest algorithm %q", a)
	}
}

// Digest returns the qualified digest of given data.
func (a Algorithm) Digest(data []byte) (Digest, error) {
	sum, err := a.Sum(data)
	if err != nil {
		return "", err
	}
	q, err := Qualify(hrps[a], sum)
	if err != nil {
		return "", err
	}
	return Digest(q), nil
}

// Digest is a qualified digest. The zero value is an empty digest.
type Digest string

// Algorithm returns the algorithm that produced this digest.
func (d Digest) Algorithm() (Algorithm, error) {
	hrp, payload, err := Unqualify(string(d))
	if err != nil {
		return "", err
	}
	for alg, h := range hrps {
		if h == hrp {
			if len(payload) != 32 {
				return "", errors.Wrapf(errors.ErrInput, "digest length %d", len(payload))
			}
			return alg, nil
		}
	}
	return "", errors.Wrapf(errors.ErrInput, "unknown digest prefix %q", hrp)
}

// Validate returns an error if this is not a well formed digest.
func (d Digest) Validate() error {
	if d == "" {
		return errors.Wrap(errors.ErrEmpty, "digest")
	}
	_, err := d.Algorithm()
	return err
}

// Matches returns true if this digest was computed over given data.
func (d Digest) Matches(data []byte) bool {
	alg, err := d.Algorithm()
	if err != nil {
		return false
	}
	got, err := alg.Digest(data)
	return err == nil && got == d
}

func (d Digest) String() string {
	return string(d)
}
