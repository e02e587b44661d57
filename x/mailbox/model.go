package mailbox

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/iov-one/gkel/errors"
)

// Routes used by the group protocols.
const (
	RouteInception   = "/multisig/icp"
	RouteRotation    = "/multisig/rot"
	RouteInteraction = "/multisig/ixn"
	RouteReply       = "/multisig/rpy"
)

// Notification is a message delivered to a single recipient.
type Notification struct {
	ID      uuid.UUID       `json:"id"`
	Route   string          `json:"r"`
	Payload json.RawMessage `json:"a"`
	// Source is the identifier of the sending member.
	Source string `json:"src"`
	Read   bool   `json:"read"`
}

// Validate returns an error if the notification is not complete.
func (n *Notification) Validate() error {
	var errs error
	if n.ID == uuid.Nil {
		errs = errors.AppendField(errs, "id", errors.ErrEmpty, "required")
	}
	if n.Route == "" {
		errs = errors.AppendField(errs, "r", errors.ErrEmpty, "required")
	}
	if n.Source == "" {
		errs = errors.AppendField(errs, "src", errors.ErrEmpty, "required")
	}
	return errs
}

// Decode unmarshals the payload into dest.
func (n *Notification) Decode(dest interface{}) error {
	if err := json.Unmarshal(n.Payload, dest); err != nil {
		return errors.Wrapf(errors.ErrInput, "notification %s: %s", n.ID, err)
	}
	return nil
}
