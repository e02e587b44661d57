package agent

import (
	"time"

	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/keystate"
)

// PkgName is the configuration key of this package.
const PkgName = "agent"

// Config configures the waits of an agent.
type Config struct {
	PollInterval time.Duration `json:"poll_interval"`
	Timeout      time.Duration `json:"timeout"`
	// CacheSize is the number of key state snapshots kept.
	CacheSize int `json:"cache_size,omitempty"`
	// Retries bounds the attempts of a proposal that waits for the key
	// states of other members.
	Retries int `json:"retries,omitempty"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		PollInterval: 20 * time.Millisecond,
		Timeout:      10 * time.Second,
		CacheSize:    keystate.DefaultSize,
		Retries:      50,
	}
}

// Validate implements gconf.Configuration.
func (c *Config) Validate() error {
	var errs error
	if c.PollInterval <= 0 {
		errs = errors.AppendField(errs, "poll_interval", errors.ErrInput, "must be positive")
	}
	if c.Timeout < c.PollInterval {
		errs = errors.AppendField(errs, "timeout", errors.ErrInput, "must not be shorter than the poll interval")
	}
	if c.CacheSize < 0 {
		errs = errors.AppendField(errs, "cache_size", errors.ErrInput, "must not be negative")
	}
	if c.Retries < 0 {
		errs = errors.AppendField(errs, "retries", errors.ErrInput, "must not be negative")
	}
	return errs
}
