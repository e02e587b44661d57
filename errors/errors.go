package errors

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Class groups root errors by how a caller is expected to react to them.
type Class uint8

const (
	// Structural errors are fatal and must never be retried.
	Structural Class = iota
	// Recoverable errors describe a wait condition.
	Recoverable
	// Rejected errors discard a single contribution.
	Rejected
)

func (c Class) String() string {
	switch c {
	case Structural:
		return "structural"
	case Recoverable:
		return "recoverable"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

var (
	// ErrInput stands for general input problems indication.
	ErrInput = Register(2, "invalid input")

	// ErrNotFound is used when a requested operation cannot be completed
	// due to missing data.
	ErrNotFound = Register(3, "not found")

	// ErrDuplicate is returned when there is a record already that has the
	// same unique key.
	ErrDuplicate = Register(4, "duplicate")

	// ErrEmpty is returned when a value fails a not empty assertion.
	ErrEmpty = Register(5, "value is empty")

	// ErrState is returned when an object is in invalid state.
	ErrState = Register(6, "invalid state")

	// ErrHuman is returned when application reaches a code path which
	// should not ever be reached if the code was written as expected.
	ErrHuman = Register(7, "coding error")

	// ErrDatabase is returned when the member database misbehaves.
	ErrDatabase = Register(8, "database")

	// ErrOverflow is returned when a computation cannot be completed
	// because the result value exceeds the type.
	ErrOverflow = Register(9, "an operation cannot be completed due to value overflow")

	// ErrIteratorDone is returned by an iterator when there are no more
	// items to return.
	ErrIteratorDone = Register(10, "iterator done")

	// ErrSequenceMismatch is returned when an event does not carry the
	// sequence number that directly follows the current one.
	ErrSequenceMismatch = Register(20, "sequence mismatch")

	// ErrDigestMismatch is returned when an event does not reference the
	// digest of its predecessor or when a recomputed digest differs.
	ErrDigestMismatch = Register(21, "digest mismatch")

	// ErrCommitmentMismatch is returned when a rotation reveals keys or a
	// threshold that were not committed to by the previous establishment
	// event.
	ErrCommitmentMismatch = Register(22, "pre-rotation commitment mismatch")

	// ErrRosterMismatch is returned when a proposal declares a co-signer
	// roster that differs from the expected group membership.
	ErrRosterMismatch = Register(23, "roster mismatch")

	// ErrDivergentPrefix is returned when two members compute a different
	// group prefix from what should be identical inputs.
	ErrDivergentPrefix = Register(24, "divergent prefix")

	// ErrThresholdNotMet is returned when collected signatures do not
	// carry enough weight.
	ErrThresholdNotMet = RegisterRecoverable(40, "threshold not met")

	// ErrTimeout is returned when a deadline elapsed before an operation
	// completed.
	ErrTimeout = RegisterRecoverable(41, "timeout")

	// ErrAnchorNotYetVisible is returned while a delegator has not yet
	// committed an anchor seal for a delegated event.
	ErrAnchorNotYetVisible = RegisterRecoverable(42, "anchor not yet visible")

	// ErrNotYetVisible is returned when a queried key state is behind the
	// requested sequence number.
	ErrNotYetVisible = RegisterRecoverable(43, "not yet visible")

	// ErrProposalPending is returned while a group has a pending proposal
	// for another event. It clears once that proposal is confirmed or
	// withdrawn.
	ErrProposalPending = RegisterRecoverable(44, "proposal pending")

	// ErrSignatureMismatch is returned for a signature made over a digest
	// other than the one of the proposal it was submitted for.
	ErrSignatureMismatch = RegisterRejected(60, "signature mismatch")

	// ErrInvalidSignature is returned for a signature that does not verify.
	ErrInvalidSignature = RegisterRejected(61, "invalid signature")

	// ErrPanic is only set when we recover from a panic.
	ErrPanic = Register(111222, "panic")
)

// Register returns a structural root error instance that should be used as
// the base for creating error instances during runtime.
//
// This function ensures that no error code is used twice. Attempt to reuse
// an error code results in panic.
//
// Use this function only during a program startup phase.
func Register(code uint32, description string) *Error {
	return register(code, Structural, description)
}

// RegisterRecoverable works like Register but the error is classified as
// recoverable.
func RegisterRecoverable(code uint32, description string) *Error {
	return register(code, Recoverable, description)
}

// RegisterRejected works like Register but the error is classified as
// rejecting a single contribution.
func RegisterRejected(code uint32, description string) *Error {
	return register(code, Rejected, description)
}

func register(code uint32, class Class, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code:  code,
		class: class,
		desc:  description,
	}
	usedCodes[err.code] = err
	return err
}

// usedCodes is keeping track of used codes to ensure their uniqueness.
var usedCodes = map[uint32]*Error{}

// Error represents a root error.
//
// Each instance created during the runtime should wrap one of the declared
// root errors. This allows error tests and classification.
type Error struct {
	code  uint32
	class Class
	desc  string
}

func (e Error) Error() string {
	return e.desc
}

// Code returns the unique code of this root error.
func (e Error) Code() uint32 {
	return e.code
}

// Class returns the class this root error was registered with.
func (e Error) Class() Class {
	return e.class
}

// New returns a new error. Returned instance is having the root cause set to
// this error. Below two lines are equal
//   e.New("my description")
//   Wrap(e, "my description")
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is basically New with formatting capabilities
func (e *Error) Newf(description string, args ...interface{}) error {
	return e.New(fmt.Sprintf(description, args...))
}

// Is check if given error instance is of a given kind/type. This involves
// unwrapping given error using the Cause method if available.
func (kind *Error) Is(err error) bool {
	if kind == nil {
		return isNilErr(err)
	}

	for {
		if err == kind {
			return true
		}
		if u, ok := err.(unpacker); ok {
			for _, e := range u.Unpack() {
				if kind.Is(e) {
					return true
				}
			}
			return false
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return false
		}
	}
}

// Wrap extends given error with an additional information.
//
// If err is nil, this returns nil, avoiding the need for an if statement when
// wrapping a error returned at the end of a function
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}

	// If this error does not carry the stacktrace information yet, attach
	// one. This should be done only once per error at the lowest frame
	// possible (most inner wrap).
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}

	return &wrappedError{
		parent: err,
		msg:    description,
	}
}

// Wrapf extends given error with an additional information.
//
// This function works like Wrap function with additional funtionality of
// formatting the input as specified.
func Wrapf(err error, format string, args ...interface{}) error {
	desc := fmt.Sprintf(format, args...)
	return Wrap(err, desc)
}

type wrappedError struct {
	// This error layer description.
	msg string
	// The underlying error that triggered this one.
	parent error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
}

func (e *wrappedError) Cause() error {
	return e.parent
}

func (e *wrappedError) Unwrap() error {
	return e.parent
}

// Format prints the stack trace of the innermost wrap for %+v.
func (e *wrappedError) Format(s fmt.State, verb rune) {
	fmt.Fprint(s, e.Error())
	if verb == 'v' && s.Flag('+') {
		if st := stackTrace(e); st != nil {
			fmt.Fprintf(s, "%+v", st)
		}
	}
}

// Recover captures a panic and stop its propagation. If panic happens it is
// transformed into a ErrPanic instance and assigned to given error. Call this
// function using defer in order to work as expected.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = Wrapf(ErrPanic, "%v", r)
	}
}

// Root returns the registered root error that given error wraps or nil if
// there is none.
func Root(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		if u, ok := err.(unpacker); ok {
			errs := u.Unpack()
			if len(errs) == 0 {
				return nil
			}
			// The first error decides, consistent with a fail-fast
			// approach.
			err = errs[0]
			continue
		}
		c, ok := err.(causer)
		if !ok {
			return nil
		}
		err = c.Cause()
	}
	return nil
}

// ClassOf returns the class of the root error that given error wraps.
// Errors that do not wrap a registered root are structural.
func ClassOf(err error) Class {
	if root := Root(err); root != nil {
		return root.class
	}
	return Structural
}

// IsStructural returns true if given error must not be retried.
func IsStructural(err error) bool {
	return err != nil && ClassOf(err) == Structural
}

// IsRecoverable returns true if given error describes a wait condition that
// can be retried.
func IsRecoverable(err error) bool {
	return err != nil && ClassOf(err) == Recoverable
}

// IsRejected returns true if given error rejects a single contribution.
func IsRejected(err error) bool {
	return err != nil && ClassOf(err) == Rejected
}

// causer is an interface implemented by an error that supports wrapping. Use
// it to test if an error wraps another error instance.
type causer interface {
	Cause() error
}

// stackTracer is implemented by errors created by github.com/pkg/errors.
type stackTracer interface {
	error
	StackTrace() errors.StackTrace
}

// stackTrace returns the first found stack trace frame carried by given error
// or any wrapped error. It returns nil if no stack trace is found.
func stackTrace(err error) errors.StackTrace {
	for {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return nil
		}
	}
}

func isNilErr(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if err == nil {
		return true
	}
	switch v := reflect.ValueOf(err); v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
