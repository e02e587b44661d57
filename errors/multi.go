package errors

import (
	"strings"
)

// Append clubs together all provided errors. Nil values are ignored.
//
// If no non-nil errors are given, nil is returned. A single non-nil error is
// returned as it is.
func Append(errs ...error) error {
	var flat []error
	for _, e := range errs {
		if isNilErr(e) {
			continue
		}
		if u, ok := e.(unpacker); ok {
			flat = append(flat, u.Unpack()...)
		} else {
			flat = append(flat, e)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return multiErr(flat)
	}
}

// unpacker is implemented by errors that are grouping other errors.
type unpacker interface {
	Unpack() []error
}

type multiErr []error

func (errs multiErr) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (errs multiErr) Unpack() []error {
	return errs
}
