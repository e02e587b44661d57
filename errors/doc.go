/*
Package errors implements the error taxonomy shared by all gkel packages.

Reuse the root errors declared in this package whenever possible. A package that needs
its own root error registers it once, during program initialisation, with Register,
RegisterRecoverable or RegisterRejected. Every root error belongs to a class:

	Structural   a protocol violation or configuration divergence between members;
	             never retried
	Recoverable  a wait condition; the caller may poll again or re-solicit signatures
	Rejected     fatal for a single contribution (one signature), not for the proposal

Create runtime errors with ErrXyz.New, ErrXyz.Newf, Wrap or Wrapf at the point of
failure so that a stack trace is attached once. Test for a root with ErrXyz.Is(err) and
for a class with IsStructural, IsRecoverable and IsRejected. A caller retry loop must
consult the class and never retry a structural error.

Formatting:
	%s is just the error message
	%+v is the message followed by the stack trace of the innermost wrap
*/
package errors
