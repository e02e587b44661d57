package mailbox

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/iov-one/gkel/errors"
)

// Relay is the message relay service.
type Relay interface {
	// Send delivers a copy of the payload to every recipient.
	Send(ctx context.Context, from, route string, payload []byte, recipients []string) error
	// ListUnread returns unread notifications of given recipient and route.
	ListUnread(ctx context.Context, recipient, route string) ([]Notification, error)
	// Ack marks a notification read. Acknowledging twice is not an error.
	Ack(ctx context.Context, recipient string, id uuid.UUID) error
}

// MemRelay is an in-process relay. It is safe for concurrent use.
type MemRelay struct {
	mu        sync.Mutex
	boxes     map[string][]*Notification
	redeliver bool
}

var _ Relay = (*MemRelay)(nil)

// NewMemRelay returns an empty relay. When redeliver is true, every
// notification is delivered twice under different ids.
func NewMemRelay(redeliver bool) *MemRelay {
	return &MemRelay{
		boxes:     make(map[string][]*Notification),
		redeliver: redeliver,
	}
}

// Send implements Relay.
func (r *MemRelay) Send(ctx context.Context, from, route string, payload []byte, recipients []string) error {
	if from == "" || route == "" {
		return errors.Wrap(errors.ErrEmpty, "sender and route are required")
	}
	if !json.Valid(payload) {
		return errors.Wrap(errors.ErrInput, "payload is not valid json")
	}
	copies := 1
	if r.redeliver {
		copies = 2
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, to := range recipients {
		for i := 0; i < copies; i++ {
			r.boxes[to] = append(r.boxes[to], &Notification{
				ID:      uuid.New(),
				Route:   route,
				Payload: append(json.RawMessage(nil), payload...),
				Source:  from,
			})
		}
	}
	return nil
}

// ListUnread implements Relay.
func (r *MemRelay) ListUnread(ctx context.Context, recipient, route string) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Notification
	for _, n := range r.boxes[recipient] {
		if !n.Read && n.Route == route {
			res = append(res, *n)
		}
	}
	return res, nil
}

// Ack implements Relay.
func (r *MemRelay) Ack(ctx context.Context, recipient string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.boxes[recipient] {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return errors.Wrapf(errors.ErrNotFound, "notification %s of %s", id, recipient)
}

// Redeliver delivers again an already sent notification under a new id.
func (r *MemRelay) Redeliver(recipient string, id uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.boxes[recipient] {
		if n.ID == id {
			c := *n
			c.ID = uuid.New()
			c.Read = false
			r.boxes[recipient] = append(r.boxes[recipient], &c)
			return c.ID, nil
		}
	}
	return uuid.Nil, errors.Wrapf(errors.ErrNotFound, "notification %s of %s", id, recipient)
}

// Count returns the number of notifications ever delivered to recipient on
// given route.
func (r *MemRelay) Count(recipient, route string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, msg := range r.boxes[recipient] {
		if msg.Route == route {
			n++
		}
	}
	return n
}
