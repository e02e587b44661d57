package agent

import (
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/x/discovery"
	"github.com/iov-one/gkel/x/mailbox"
	"github.com/iov-one/gkel/x/witness"
)

// Deps are the collaborator services an agent reaches.
type Deps struct {
	Relay    mailbox.Relay
	Network  witness.Network
	Registry discovery.Registry
	Logger   gkel.Logger
}

// Network is an in-process set of collaborator services shared by all
// agents of a process.
type Network struct {
	Relay    *mailbox.MemRelay
	Pool     *witness.Pool
	Registry *discovery.MemRegistry
}

// NewNetwork returns services with given witnesses. Events become visible
// after given propagation delay. With redeliver set every notification is
// delivered twice.
func NewNetwork(witnesses []string, delay time.Duration, redeliver bool, logger gkel.Logger) *Network {
	pool := witness.NewPool(witnesses, delay, logger)
	return &Network{
		Relay:    mailbox.NewMemRelay(redeliver),
		Pool:     pool,
		Registry: discovery.NewMemRegistry(pool, logger),
	}
}

// Deps returns the dependencies of an agent using this network.
func (n *Network) Deps(logger gkel.Logger) Deps {
	return Deps{
		Relay:    n.Relay,
		Network:  n.Pool,
		Registry: n.Registry,
		Logger:   logger,
	}
}
