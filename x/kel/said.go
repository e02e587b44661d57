package kel

import (
	"strings"

	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// placeholder takes the place of the digest, and of the prefix for
// inceptions, while the digest is computed. It has the length of a
// qualified digest.
var placeholder = strings.Repeat("#", 62)

func computeDigest(e *Event, alg crypto.Algorithm) (crypto.Digest, error) {
	c := *e
	c.Digest = crypto.Digest(placeholder)
	if c.Type.IsInception() {
		c.Prefix = placeholder
	}
	raw, err := c.Serialize()
	if err != nil {
		return "", err
	}
	return alg.Digest(raw)
}

// Saidify computes the self addressing digest of given event and sets it.
// For inceptions the digest is the prefix as well.
func Saidify(e *Event, alg crypto.Algorithm) error {
	if alg == "" {
		alg = crypto.DefaultAlgorithm
	}
	d, err := computeDigest(e, alg)
	if err != nil {
		return err
	}
	e.Digest = d
	if e.Type.IsInception() {
		e.Prefix = string(d)
	}
	return nil
}

// VerifyDigest recomputes the digest of given event using the algorithm
// that the event declares and compares it with the declared one.
func VerifyDigest(e *Event) error {
	alg, err := e.Digest.Algorithm()
	if err != nil {
		return errors.Wrap(errors.ErrDigestMismatch, err.Error())
	}
	d, err := computeDigest(e, alg)
	if err != nil {
		return err
	}
	if d != e.Digest {
		return errors.Wrapf(errors.ErrDigestMismatch, "declared %s, computed %s", e.Digest, d)
	}
	if e.Type.IsInception() && e.Prefix != string(d) {
		return errors.Wrapf(errors.ErrDigestMismatch, "prefix %s is not the inception digest", e.Prefix)
	}
	return nil
}
