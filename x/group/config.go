package group

import (
	"github.com/iov-one/gkel/crypto"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/operation"
)

// PkgName is the configuration key of this package.
const PkgName = "group"

// Config configures the group coordinator of a member.
type Config struct {
	// Witnesses and WitnessThreshold are used by inceptions that do not
	// declare their own witnesses.
	Witnesses        []string         `json:"witnesses,omitempty"`
	WitnessThreshold uint32           `json:"toad,omitempty"`
	Algorithm        crypto.Algorithm `json:"algorithm,omitempty"`
	// AnchorRetries is the number of polls a delegated event waits for
	// the delegator anchor before the session fails.
	AnchorRetries int               `json:"anchor_retries,omitempty"`
	Backoff       operation.Backoff `json:"backoff"`
	// TrustProposer makes joining members adopt the proposed event
	// without recomputing it. Only the roster is checked.
	TrustProposer bool `json:"trust_proposer,omitempty"`
}

// DefaultConfig returns the configuration used when none was stored.
func DefaultConfig() Config {
	return Config{
		Algorithm:     crypto.DefaultAlgorithm,
		AnchorRetries: 120,
		Backoff:       operation.DefaultBackoff,
	}
}

// Validate implements gconf.Configuration.
func (c *Config) Validate() error {
	var errs error
	if c.WitnessThreshold > uint32(len(c.Witnesses)) {
		errs = errors.AppendField(errs, "toad", errors.ErrInput, "exceeds the number of witnesses")
	}
	errs = errors.AppendField(errs, "algorithm", c.Algorithm.Validate(), "")
	if c.AnchorRetries < 1 {
		errs = errors.AppendField(errs, "anchor_retries", errors.ErrInput, "must be positive")
	}
	errs = errors.AppendField(errs, "backoff", c.Backoff.Validate(), "")
	return errs
}
