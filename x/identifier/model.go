package identifier

import (
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// Record describes an individual identifier of the member.
type Record struct {
	Name    string           `json:"name"`
	Prefix  string           `json:"prefix"`
	Current crypto.PublicKey `json:"current"`
	Next    crypto.PublicKey `json:"next"`
	// Derived is the number of keys created for this identifier. It is
	// the derivation index of the next key to create.
	Derived uint32 `json:"derived"`
}

// Validate implements orm.Model.
func (r *Record) Validate() error {
	var errs error
	if r.Name == "" {
		errs = errors.AppendField(errs, "name", errors.ErrEmpty, "required")
	}
	if r.Prefix == "" {
		errs = errors.AppendField(errs, "prefix", errors.ErrEmpty, "required")
	}
	errs = errors.AppendField(errs, "current", r.Current.Validate(), "")
	errs = errors.AppendField(errs, "next", r.Next.Validate(), "")
	return errs
}
