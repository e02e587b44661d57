package group

import (
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/kel"
)

// Phase is the lifecycle phase of a group.
type Phase string

const (
	Uninitiated     Phase = "uninitiated"
	ProposalPending Phase = "pending"
	QuorumReached   Phase = "quorum"
	Anchored        Phase = "anchored"
	Confirmed       Phase = "confirmed"
)

// Spec describes a group to incept.
type Spec struct {
	Name string
	// Members are the prefixes of the individual identifiers of the
	// members, in signing order.
	Members   []string
	Threshold gkel.Threshold
	// NextThreshold defaults to Threshold.
	NextThreshold    gkel.Threshold
	Witnesses        []string
	WitnessThreshold uint32
	// Delegator is the prefix of the delegating identifier, if any.
	Delegator string
}

// Validate checks the spec of a group proposed by given member.
func (s *Spec) Validate(self string) error {
	var errs error
	if s.Name == "" {
		errs = errors.AppendField(errs, "Name", errors.ErrEmpty, "required")
	}
	if len(s.Members) == 0 {
		errs = errors.AppendField(errs, "Members", errors.ErrEmpty, "required")
	} else if indexOf(s.Members, self) < 0 {
		errs = errors.AppendField(errs, "Members", errors.ErrRosterMismatch, "%s is not a member", self)
	}
	errs = errors.AppendField(errs, "Members", checkRoster(s.Members), "")
	errs = errors.AppendField(errs, "Threshold", s.Threshold.Validate(len(s.Members)), "")
	if !s.NextThreshold.IsZero() {
		errs = errors.AppendField(errs, "NextThreshold", s.NextThreshold.Validate(len(s.Members)), "")
	}
	return errs
}

// Group is the record of a group identifier kept by one member.
type Group struct {
	Prefix string `json:"prefix"`
	// Name is the local alias of the group. Members may use different
	// names for the same group.
	Name string `json:"name"`
	// Members are the individual identifiers of the members, in signing
	// order (smids).
	Members []string `json:"smids"`
	// Self is the individual identifier of the owning member and Index
	// its position in Members.
	Self  string `json:"self"`
	Index int    `json:"index"`
	Phase Phase  `json:"phase"`
	// Pending is the digest of the event being proposed.
	Pending crypto.Digest `json:"pending,omitempty"`
	// MemberSeqs are the sequence numbers of the member key states that
	// provided the current group keys. PendingSeqs are those of a pending
	// rotation.
	MemberSeqs  []uint64 `json:"seqs"`
	PendingSeqs []uint64 `json:"pending_seqs,omitempty"`
}

// Validate implements orm.Model.
func (g *Group) Validate() error {
	var errs error
	if g.Prefix == "" {
		errs = errors.AppendField(errs, "prefix", errors.ErrEmpty, "required")
	}
	if g.Name == "" {
		errs = errors.AppendField(errs, "name", errors.ErrEmpty, "required")
	}
	if g.Index < 0 || g.Index >= len(g.Members) || g.Members[g.Index] != g.Self {
		errs = errors.AppendField(errs, "index", errors.ErrState, "not the position of %s", g.Self)
	}
	if len(g.MemberSeqs) != len(g.Members) {
		errs = errors.AppendField(errs, "seqs", errors.ErrState, "one sequence per member required")
	}
	switch g.Phase {
	case ProposalPending, QuorumReached, Anchored:
		if g.Pending == "" {
			errs = errors.AppendField(errs, "pending", errors.ErrEmpty, "required in phase %s", g.Phase)
		}
	case Confirmed:
	default:
		errs = errors.AppendField(errs, "phase", errors.ErrInput, "unexpected phase %q", g.Phase)
	}
	return errs
}

// Exchange is the payload of the notifications exchanged by members.
type Exchange struct {
	Route string `json:"r"`
	// Group is the prefix of the group identifier.
	Group string `json:"gid"`
	// Smids is the roster of expected signers, Rmids the roster of
	// members whose next keys are committed to.
	Smids []string `json:"smids"`
	Rmids []string `json:"rmids,omitempty"`
	// Seqs are the sequence numbers of the member key states that the
	// proposed keys are taken from.
	Seqs       []uint64         `json:"seqs,omitempty"`
	Event      *kel.Event       `json:"e,omitempty"`
	Reply      *discovery.Reply `json:"rpy,omitempty"`
	Signatures []kel.Signature  `json:"sigs"`
}

// Digest returns the digest of the proposed event or reply.
func (x *Exchange) Digest() crypto.Digest {
	switch {
	case x.Event != nil:
		return x.Event.Digest
	case x.Reply != nil:
		return x.Reply.Digest
	}
	return ""
}

// Validate checks that the exchange is complete.
func (x *Exchange) Validate() error {
	var errs error
	if x.Group == "" {
		errs = errors.AppendField(errs, "gid", errors.ErrEmpty, "required")
	}
	errs = errors.AppendField(errs, "smids", checkRoster(x.Smids), "")
	switch {
	case x.Event == nil && x.Reply == nil:
		errs = errors.AppendField(errs, "e", errors.ErrEmpty, "event or reply required")
	case x.Event != nil:
		errs = errors.AppendField(errs, "e", x.Event.Validate(), "")
		if x.Event.Prefix != x.Group {
			errs = errors.AppendField(errs, "gid", errors.ErrState, "event of %s", x.Event.Prefix)
		}
	case x.Reply != nil:
		errs = errors.AppendField(errs, "rpy", x.Reply.Validate(), "")
		if x.Reply.Prefix != x.Group {
			errs = errors.AppendField(errs, "gid", errors.ErrState, "reply of %s", x.Reply.Prefix)
		}
	}
	return errs
}

// Convergence is the tuple that must be equal for all members of a group
// once a protocol is confirmed.
type Convergence struct {
	Prefix   string
	Name     string
	Sequence uint64
	Digest   crypto.Digest
}

// Equivalent compares the tuples of two members. Names are local aliases;
// members that named the group differently are still convergent when all
// other fields are equal.
func (c Convergence) Equivalent(other Convergence) bool {
	return c.Prefix == other.Prefix && c.Sequence == other.Sequence && c.Digest == other.Digest
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func checkRoster(members []string) error {
	if len(members) == 0 {
		return errors.Wrap(errors.ErrEmpty, "roster")
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" {
			return errors.Wrap(errors.ErrEmpty, "member")
		}
		if seen[m] {
			return errors.Wrapf(errors.ErrRosterMismatch, "%s listed twice", m)
		}
		seen[m] = true
	}
	return nil
}

func sameRoster(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
