package operation

import (
	"context"

	"github.com/iov-one/gkel/errors"
)

// Operation is an asynchronous confirmation handle.
type Operation interface {
	// Name identifies the operation in logs and errors.
	Name() string
	// Poll checks the progress of the operation. It returns true and the
	// result once the operation is complete.
	Poll(ctx context.Context) (done bool, result interface{}, err error)
}

// Func returns an operation that calls fn on every poll.
func Func(name string, fn func(context.Context) (bool, interface{}, error)) Operation {
	return &funcOperation{name: name, fn: fn}
}

type funcOperation struct {
	name string
	fn   func(context.Context) (bool, interface{}, error)
}

func (f *funcOperation) Name() string {
	return f.name
}

func (f *funcOperation) Poll(ctx context.Context) (bool, interface{}, error) {
	return f.fn(ctx)
}

// Done returns an operation that is already complete with given result.
func Done(name string, result interface{}) Operation {
	return Func(name, func(context.Context) (bool, interface{}, error) {
		return true, result, nil
	})
}

// Final marks given error as the final outcome of an operation. Tracking
// stops even if the error is recoverable. The class of the error is not
// changed, so the caller can still decide to retry later.
func Final(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err: err}
}

// IsFinal returns true if given error was marked with Final.
func IsFinal(err error) bool {
	for err != nil {
		if _, ok := err.(*finalError); ok {
			return true
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}

type finalError struct {
	err error
}

func (e *finalError) Error() string {
	return e.err.Error()
}

func (e *finalError) Cause() error {
	return e.err
}

func (e *finalError) Unwrap() error {
	return e.err
}

// shouldStop returns true if polling must not continue after given error.
func shouldStop(err error) bool {
	return IsFinal(err) || !errors.IsRecoverable(err)
}
