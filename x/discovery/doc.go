/*
Package discovery publishes endpoint role authorizations of identifiers.

An authorization is a reply that binds an endpoint identifier to a role of
an identifier. For a group identifier the reply must be approved by the
group signing threshold, just like an event, before the registry accepts
it. The registry checks the signatures against the key state reported by
the witness network.
*/
package discovery
