/*
Package group coordinates group identifiers whose key state is controlled
by several members with a signing threshold.

Three protocols share the same shape: inception, interaction (used by a
delegating group to anchor the events of its delegates) and rotation. A
member proposes an event, signs it and sends it with the roster of expected
co-signers to the other members. Every other member joins by recomputing
the same event from the same inputs, signs it and sends its signature to the
others. Each member independently assembles the event once the threshold is
met, submits it to the witnesses and waits for confirmation.

The phases of a group are

	uninitiated -> pending -> quorum -> anchored -> confirmed

The anchored phase applies to delegated establishment events only: such an
event is not confirmed until the delegator log contains a seal of it. An
interaction or a rotation moves a confirmed group back to pending. The new
state is committed atomically once confirmed, so a member either remains on
the prior confirmed state or moves to the new one as a whole.

A joining member never acts on a proposal whose roster does not match its
own membership. Unless TrustProposer is configured, it also rejects a
proposal whose digest differs from the one it computes.
*/
package group
