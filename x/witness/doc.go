/*
Package witness defines the witness network collaborator and provides an
in-process pool of witnesses.

The network accepts signed events, returns receipts and answers key state
queries for "state at sequence at least N". The pool validates every event
like a witness would: digest, sequencing, threshold signatures of the keys in
force and, for delegated establishment events, the anchor in the delegator
log. Events whose delegator anchor is not visible yet are kept in escrow and
accepted as soon as the anchor arrives.
*/
package witness
