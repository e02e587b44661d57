/*
Package crypto provides the primitives used by key event logs: qualified
digests, Ed25519 signing keys and the salted derivation of key pairs.

All values that are referenced from events are qualified. A qualified value
is a bech32 string which human readable part names the algorithm that
produced it, for example "b3d1..." for a Blake3-256 digest or "key1..." for
an Ed25519 public key. Qualified values can be compared as strings.
*/
package crypto
