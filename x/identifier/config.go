package identifier

import (
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
)

// PkgName is the configuration key of this package.
const PkgName = "identifier"

// Config configures the individual identifiers of a member.
type Config struct {
	// Salt seeds the key derivation. Keys are random when empty.
	Salt             string           `json:"salt,omitempty"`
	Witnesses        []string         `json:"witnesses,omitempty"`
	WitnessThreshold uint32           `json:"toad,omitempty"`
	Algorithm        crypto.Algorithm `json:"algorithm,omitempty"`
}

// Validate implements gconf.Configuration.
func (c *Config) Validate() error {
	var errs error
	if c.Salt != "" && len(c.Salt) < 16 {
		errs = errors.AppendField(errs, "salt", errors.ErrInput, "must be at least 16 characters")
	}
	if c.WitnessThreshold > uint32(len(c.Witnesses)) {
		errs = errors.AppendField(errs, "toad", errors.ErrInput, "exceeds the number of witnesses")
	}
	if len(c.Witnesses) > 0 && c.WitnessThreshold == 0 {
		errs = errors.AppendField(errs, "toad", errors.ErrEmpty, "required with witnesses")
	}
	if c.Algorithm != "" {
		errs = errors.AppendField(errs, "algorithm", c.Algorithm.Validate(), "")
	}
	return errs
}

// Salter returns the key derivation of this configuration or nil when keys
// are random.
func (c *Config) Salter() (*crypto.Salter, error) {
	if c.Salt == "" {
		return nil, nil
	}
	return crypto.NewSalter([]byte(c.Salt))
}
