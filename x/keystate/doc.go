/*
Package keystate keeps read-only key state snapshots of remote identifiers.

A snapshot is fetched from the witness network and replaces any older copy
of the same identifier as a whole. Snapshots are never merged or modified in
place and callers always receive their own copy.
*/
package keystate
