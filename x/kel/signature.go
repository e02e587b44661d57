package kel

import (
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// SignCodeV1 is the current way to prefix the bytes we use to build a
// signature.
var SignCodeV1 = []byte{0, 0xCA, 0xFE, 1}

// SignBytes returns the bytes that a member signs to approve the event with
// given digest. The digest commits to the whole event.
func SignBytes(d crypto.Digest) []byte {
	out := make([]byte, 0, len(SignCodeV1)+len(d))
	out = append(out, SignCodeV1...)
	return append(out, d...)
}

// Signature is an indexed signature. Index is the position of the signing
// key in the key list of the establishment event that is in force.
type Signature struct {
	Index  int           `json:"i"`
	Digest crypto.Digest `json:"d"`
	Sig    []byte        `json:"s"`
}

// Sign returns a signature of the event with given digest.
func Sign(signer crypto.Signer, index int, d crypto.Digest) Signature {
	return Signature{
		Index:  index,
		Digest: d,
		Sig:    signer.Sign(SignBytes(d)),
	}
}

// Verify returns true if this signature was made by given key over given
// digest.
func (s Signature) Verify(key crypto.PublicKey, d crypto.Digest) bool {
	return s.Digest == d && key.Verify(SignBytes(d), s.Sig)
}

// SignedEvent is an event together with the signatures that approve it.
type SignedEvent struct {
	Event      *Event      `json:"e"`
	Signatures []Signature `json:"x"`
}

// Validate implements orm.Model.
func (s *SignedEvent) Validate() error {
	if s.Event == nil {
		return errors.Wrap(errors.ErrEmpty, "event")
	}
	return s.Event.Validate()
}

// Receipt is the confirmation of a witness that it accepted an event.
type Receipt struct {
	Witness  string        `json:"w"`
	Prefix   string        `json:"i"`
	Sequence uint64        `json:"s,string"`
	Digest   crypto.Digest `json:"d"`
}
