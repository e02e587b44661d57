/*
Package aggregate collects signature shares over a proposed event until the
signing threshold is met.

A proposal is kept in the member database under the digest of the proposed
event. Each member adds its own signature and the signatures it receives from
other members. A signature made over another digest is rejected with
ErrSignatureMismatch, so that a forked proposal is detected rather than
silently ignored. Once enough weight is collected the proposal can be
assembled into a signed event. Signatures that arrive after assembly are
accepted and ignored.
*/
package aggregate
