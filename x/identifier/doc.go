/*
Package identifier manages the individual identifiers owned by one member.

Every member controls at least one single key identifier that backs its
participation in groups. The Keeper holds the private keys, derived from a
salt when one is configured, and never forgets a key: a group event must be
signed with the key that the group state lists even after the member rotated
its individual identifier.

Habitat creates, rotates and interacts with individual identifiers. Each
operation is committed to the member log and submitted to the witness
network, and returns an operation that completes once the witness threshold
of receipts is collected.
*/
package identifier
