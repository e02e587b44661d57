package discovery

import (
	"encoding/json"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/kel"
)

// RouteEndRoleAdd is the route of a reply authorizing an endpoint role.
const RouteEndRoleAdd = "/end/role/add"

// Roles that an endpoint can be authorized for.
const (
	RoleAgent   = "agent"
	RoleMailbox = "mailbox"
	RoleWitness = "witness"
)

// Reply authorizes an endpoint to act in a role of an identifier.
type Reply struct {
	Route  string        `json:"r"`
	Digest crypto.Digest `json:"d"`
	// Timestamp is chosen by the member that proposes the reply. Other
	// members reuse it so that all compute the same digest.
	Timestamp  gkel.Timestamp `json:"dt"`
	Prefix     string         `json:"cid"`
	Role       string         `json:"role"`
	EndpointID string         `json:"eid"`
}

// NewReply returns an end role reply with the digest set.
func NewReply(prefix, role, eid string, ts gkel.Timestamp, alg crypto.Algorithm) (*Reply, error) {
	if alg == "" {
		alg = crypto.DefaultAlgorithm
	}
	r := &Reply{
		Route:      RouteEndRoleAdd,
		Timestamp:  ts,
		Prefix:     prefix,
		Role:       role,
		EndpointID: eid,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	d, err := r.digest(alg)
	if err != nil {
		return nil, err
	}
	r.Digest = d
	return r, nil
}

// Validate checks that all fields are set, without checking the digest.
func (r *Reply) Validate() error {
	var errs error
	if r.Route != RouteEndRoleAdd {
		errs = errors.AppendField(errs, "r", errors.ErrInput, "unsupported route %q", r.Route)
	}
	errs = errors.AppendField(errs, "dt", r.Timestamp.Validate(), "")
	if r.Prefix == "" {
		errs = errors.AppendField(errs, "cid", errors.ErrEmpty, "required")
	}
	if r.Role == "" {
		errs = errors.AppendField(errs, "role", errors.ErrEmpty, "required")
	}
	if r.EndpointID == "" {
		errs = errors.AppendField(errs, "eid", errors.ErrEmpty, "required")
	}
	return errs
}

func (r *Reply) digest(alg crypto.Algorithm) (crypto.Digest, error) {
	c := *r
	c.Digest = ""
	raw, err := json.Marshal(&c)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInput, "serialize: %s", err)
	}
	return alg.Digest(raw)
}

// VerifyDigest recomputes the digest with the algorithm the reply declares.
func (r *Reply) VerifyDigest() error {
	alg, err := r.Digest.Algorithm()
	if err != nil {
		return errors.Wrap(errors.ErrDigestMismatch, err.Error())
	}
	d, err := r.digest(alg)
	if err != nil {
		return err
	}
	if d != r.Digest {
		return errors.Wrapf(errors.ErrDigestMismatch, "declared %s, computed %s", r.Digest, d)
	}
	return nil
}

// SignedReply is a reply with the signatures of the identifier keys.
type SignedReply struct {
	Reply      *Reply          `json:"rpy"`
	Signatures []kel.Signature `json:"sigs"`
}
