package gkeltest

import (
	"fmt"
	"testing"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"lukechampine.com/blake3"
)

// NewKey returns a new random private key.
func NewKey(t testing.TB) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenPrivateKey()
	if err != nil {
		t.Fatalf("cannot generate key: %s", err)
	}
	return k
}

// SeededKey returns a private key derived from given label. The same label
// always returns the same key.
func SeededKey(t testing.TB, label string) *crypto.PrivateKey {
	t.Helper()
	seed := blake3.Sum256([]byte(label))
	k, err := crypto.PrivateKeyFromSeed(seed[:])
	if err != nil {
		t.Fatalf("cannot derive key: %s", err)
	}
	return k
}

// SeededKeys returns n keys derived from given label.
func SeededKeys(t testing.TB, label string, n int) []*crypto.PrivateKey {
	t.Helper()
	keys := make([]*crypto.PrivateKey, n)
	for i := range keys {
		keys[i] = SeededKey(t, fmt.Sprintf("%s/%d", label, i))
	}
	return keys
}

// PublicKeys returns the public keys of given signers.
func PublicKeys(keys []*crypto.PrivateKey) []crypto.PublicKey {
	res := make([]crypto.PublicKey, len(keys))
	for i, k := range keys {
		res[i] = k.PublicKey()
	}
	return res
}

// Commitments returns the default algorithm digests of the public keys of
// given signers.
func Commitments(t testing.TB, keys []*crypto.PrivateKey) []crypto.Digest {
	t.Helper()
	res := make([]crypto.Digest, len(keys))
	for i, k := range keys {
		d, err := k.PublicKey().Commitment(crypto.DefaultAlgorithm)
		if err != nil {
			t.Fatalf("cannot commit to key: %s", err)
		}
		res[i] = d
	}
	return res
}

// Threshold parses a count or fraction threshold or fails the test.
func Threshold(t testing.TB, raw string) gkel.Threshold {
	t.Helper()
	th, err := gkel.ParseThreshold(raw)
	if err != nil {
		t.Fatalf("cannot parse threshold %q: %s", raw, err)
	}
	return th
}

// Weighted parses a weighted threshold or fails the test.
func Weighted(t testing.TB, weights ...string) gkel.Threshold {
	t.Helper()
	th, err := gkel.ParseWeightedThreshold(weights...)
	if err != nil {
		t.Fatalf("cannot parse weights %q: %s", weights, err)
	}
	return th
}

// Digest returns the default algorithm digest of given data.
func Digest(t testing.TB, data string) crypto.Digest {
	t.Helper()
	d, err := crypto.DefaultAlgorithm.Digest([]byte(data))
	if err != nil {
		t.Fatalf("cannot digest: %s", err)
	}
	return d
}
