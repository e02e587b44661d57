/*
Package agent implements a member of threshold controlled groups as an
explicit actor.

An Agent owns its member database, its keys and its individual identifier,
and reaches other members only through a mailbox relay, a witness network
and an endpoint registry. Every blocking call takes a context and is
bounded by the configured timeout, so one member timing out never blocks
the others.

	net := agent.NewNetwork([]string{"wan"}, 0, false, logger)
	alice, err := agent.New(ctx, "alice", opts, net.Deps(logger))
	...
	s, err := alice.Incept(ctx, spec)
	res, err := alice.Wait(ctx, s)
*/
package agent
