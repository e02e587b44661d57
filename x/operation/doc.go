/*
Package operation tracks long running asynchronous confirmations.

An Operation is a handle that can be polled: a witness receipt, a key state
query, a group protocol session. Tracker polls an operation at a bounded
interval until it completes or the caller deadline elapses. A timeout does
not cancel anything: the same handle can be tracked again.

Poll errors are classified. Recoverable errors are wait conditions and
polling continues. Any other error aborts tracking immediately. Use Final to
stop tracking on an otherwise recoverable error, for example when a retry
budget is exhausted.

Backoff and Retry provide a bounded retry primitive for calls that are not
modelled as operations.
*/
package operation
