package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/iov-one/gkel/errors"
	"github.com/iov-one/gkel/x/operation"
	. "github.com/smartystreets/goconvey/convey"
)

type proposal struct {
	Digest string `json:"d"`
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()

	Convey("Given members sharing a relay", t, func() {
		relay := NewMemRelay(false)
		alice := NewMailbox("alice", relay, nil)
		bob := NewMailbox("bob", relay, nil)
		carol := NewMailbox("carol", relay, nil)
		roster := []string{"alice", "bob", "carol"}

		Convey("An empty mailbox has nothing to poll", func() {
			_, err := bob.Poll(ctx, RouteInception)
			So(errors.ErrEmpty.Is(err), ShouldBeTrue)
		})

		Convey("When alice sends a proposal to the roster", func() {
			So(alice.Send(ctx, RouteInception, proposal{Digest: "D1"}, roster), ShouldBeNil)

			Convey("The sender does not receive a copy", func() {
				_, err := alice.Poll(ctx, RouteInception)
				So(errors.ErrEmpty.Is(err), ShouldBeTrue)
			})

			Convey("Every other member can poll and decode it", func() {
				for _, mb := range []*Mailbox{bob, carol} {
					n, err := mb.Poll(ctx, RouteInception)
					So(err, ShouldBeNil)
					So(n.Source, ShouldEqual, "alice")
					So(n.Route, ShouldEqual, RouteInception)
					So(n.Validate(), ShouldBeNil)

					var p proposal
					So(n.Decode(&p), ShouldBeNil)
					So(p.Digest, ShouldEqual, "D1")
				}
			})

			Convey("Other routes stay empty", func() {
				_, err := bob.Poll(ctx, RouteRotation)
				So(errors.ErrEmpty.Is(err), ShouldBeTrue)
			})

			Convey("Marking read is idempotent", func() {
				n, err := bob.Poll(ctx, RouteInception)
				So(err, ShouldBeNil)
				So(bob.MarkRead(ctx, n.ID), ShouldBeNil)
				So(bob.MarkRead(ctx, n.ID), ShouldBeNil)

				_, err = bob.Poll(ctx, RouteInception)
				So(errors.ErrEmpty.Is(err), ShouldBeTrue)

				Convey("And only affects the reader", func() {
					_, err := carol.Poll(ctx, RouteInception)
					So(err, ShouldBeNil)
				})
			})

			Convey("A redelivered notification is unread again under a new id", func() {
				n, err := bob.Poll(ctx, RouteInception)
				So(err, ShouldBeNil)
				So(bob.MarkRead(ctx, n.ID), ShouldBeNil)

				id, err := relay.Redeliver("bob", n.ID)
				So(err, ShouldBeNil)
				So(id.String(), ShouldNotEqual, n.ID.String())

				again, err := bob.Poll(ctx, RouteInception)
				So(err, ShouldBeNil)
				So(again.ID.String(), ShouldEqual, id.String())
				So(string(again.Payload), ShouldEqual, string(n.Payload))
			})
		})

		Convey("Acknowledging an unknown notification fails", func() {
			n := Notification{}
			err := bob.MarkRead(ctx, n.ID)
			So(errors.ErrNotFound.Is(err), ShouldBeTrue)
		})
	})

	Convey("Given a relay that delivers twice", t, func() {
		relay := NewMemRelay(true)
		alice := NewMailbox("alice", relay, nil)
		bob := NewMailbox("bob", relay, nil)

		So(alice.Send(ctx, RouteRotation, proposal{Digest: "D2"}, []string{"bob"}), ShouldBeNil)

		ns, err := bob.List(ctx, RouteRotation)
		So(err, ShouldBeNil)
		So(ns, ShouldHaveLength, 2)
		So(ns[0].ID.String(), ShouldNotEqual, ns[1].ID.String())
		So(relay.Count("bob", RouteRotation), ShouldEqual, 2)
	})
}

func TestMailboxWait(t *testing.T) {
	ctx := context.Background()

	Convey("Waiting for a notification", t, func() {
		relay := NewMemRelay(false)
		alice := NewMailbox("alice", relay, nil)
		bob := NewMailbox("bob", relay, nil)
		tracker := operation.NewTracker(time.Millisecond, nil)

		So(alice.Send(ctx, RouteInteraction, proposal{Digest: "other"}, []string{"bob"}), ShouldBeNil)
		So(alice.Send(ctx, RouteInteraction, proposal{Digest: "mine"}, []string{"bob"}), ShouldBeNil)

		Convey("Returns the first matching one", func() {
			op := bob.Wait(RouteInteraction, func(n *Notification) bool {
				var p proposal
				return n.Decode(&p) == nil && p.Digest == "mine"
			})
			res, err := tracker.Track(ctx, op, time.Second)
			So(err, ShouldBeNil)

			var p proposal
			So(res.(*Notification).Decode(&p), ShouldBeNil)
			So(p.Digest, ShouldEqual, "mine")

			Convey("And leaves the others unread", func() {
				ns, err := bob.List(ctx, RouteInteraction)
				So(err, ShouldBeNil)
				So(ns, ShouldHaveLength, 2)
			})
		})

		Convey("Times out when nothing matches", func() {
			op := bob.Wait(RouteInteraction, func(*Notification) bool { return false })
			_, err := tracker.Track(ctx, op, 10*time.Millisecond)
			So(errors.ErrTimeout.Is(err), ShouldBeTrue)
		})
	})
}
