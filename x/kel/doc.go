/*
Package kel implements key event logs: the events that establish and rotate
the keys of an identifier, the state obtained by applying them in order and
the sequencing rules that every accepted event must follow.

An identifier is created by an inception event. Its prefix is the self
addressing digest of that event, so the prefix is a deterministic function of
the keys, thresholds, next key commitments, witnesses and delegator. Every
following event carries the next sequence number and the digest of its
predecessor. A rotation reveals keys that were committed to, by digest, in the
previous establishment event and commits to a new next key set. Interactions
only anchor seals and never change keys.

Ordering violations are structural errors and are never retried.
*/
package kel
