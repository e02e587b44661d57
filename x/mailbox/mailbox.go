package mailbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/operation"
)

// Mailbox is the relay client of a single member.
type Mailbox struct {
	owner  string
	relay  Relay
	logger gkel.Logger
}

// NewMailbox returns a mailbox of given member.
func NewMailbox(owner string, relay Relay, logger gkel.Logger) *Mailbox {
	return &Mailbox{
		owner:  owner,
		relay:  relay,
		logger: gkel.LoggerOrDefault(logger).With("module", "mailbox", "owner", owner),
	}
}

// Owner returns the identifier of the member owning this mailbox.
func (m *Mailbox) Owner() string {
	return m.owner
}

// Send serializes payload and sends it to all recipients. The owner is
// never sent a copy.
func (m *Mailbox) Send(ctx context.Context, route string, payload interface{}, recipients []string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(errors.ErrInput, "marshal payload: %s", err)
	}
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r != m.owner {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return nil
	}
	if err := m.relay.Send(ctx, m.owner, route, raw, to); err != nil {
		return errors.Wrapf(err, "send %s", route)
	}
	m.logger.Debug("notification sent", "route", route, "recipients", len(to))
	return nil
}

// List returns all unread notifications of given route.
func (m *Mailbox) List(ctx context.Context, route string) ([]Notification, error) {
	ns, err := m.relay.ListUnread(ctx, m.owner, route)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", route)
	}
	return ns, nil
}

// Poll returns the next unread notification of given route. ErrEmpty is
// returned if there is none.
func (m *Mailbox) Poll(ctx context.Context, route string) (*Notification, error) {
	ns, err := m.List(ctx, route)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, errors.Wrapf(errors.ErrEmpty, "no unread notification on %s", route)
	}
	return &ns[0], nil
}

// MarkRead acknowledges given notification.
func (m *Mailbox) MarkRead(ctx context.Context, id uuid.UUID) error {
	if err := m.relay.Ack(ctx, m.owner, id); err != nil {
		return errors.Wrapf(err, "mark read")
	}
	return nil
}

// Wait returns an operation that completes with the next unread
// notification of given route that matches. Nil match accepts any.
// Notifications that do not match are left unread.
func (m *Mailbox) Wait(route string, match func(*Notification) bool) operation.Operation {
	name := "mailbox." + route + "." + uuid.New().String()
	return operation.Func(name, func(ctx context.Context) (bool, interface{}, error) {
		ns, err := m.List(ctx, route)
		if err != nil {
			return false, nil, err
		}
		for i := range ns {
			if match == nil || match(&ns[i]) {
				return true, &ns[i], nil
			}
		}
		return false, nil, nil
	})
}
