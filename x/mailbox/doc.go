/*
Package mailbox implements the notification exchange used by group members
to propose events and collect co-signatures.

A Relay is the collaborator service that stores notifications per recipient
and logical route. Delivery is at least once and the order of notifications
coming from different senders is not guaranteed. MemRelay is an in-process
relay that can redeliver notifications to exercise idempotent consumers.

Mailbox is the client used by one member. Poll returns the next unread
notification of a route and MarkRead acknowledges it. Marking a notification
read twice is not an error.
*/
package mailbox
