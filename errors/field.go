package errors

import (
	"fmt"
	"strings"
)

// Field returns an error instance that wraps the original error with
// additional information. It returns nil if given error is nil.
//
// Use it to attach the name of the attribute that failed validation.
func Field(fieldName string, err error, description string, args ...interface{}) error {
	if isNilErr(err) {
		return nil
	}
	if len(args) != 0 {
		description = fmt.Sprintf(description, args...)
	}
	return &fieldError{
		Fieldname: fieldName,
		Err:       Wrap(err, description),
	}
}

// AppendField is a shortcut for Append(errs, Field(...)).
func AppendField(errs error, fieldName string, err error, description string, args ...interface{}) error {
	return Append(errs, Field(fieldName, err, description, args...))
}

type fieldError struct {
	Fieldname string
	Err       error
}

func (e *fieldError) Field() string {
	return e.Fieldname
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Fieldname, e.Err.Error())
}

func (e *fieldError) Cause() error {
	return e.Err
}

func (e *fieldError) Unwrap() error {
	return e.Err
}

// FieldErrors returns all field errors carried by given error whose name
// matches. A name ending with a dot matches every field under that path.
func FieldErrors(err error, fieldName string) []error {
	var res []error
	collectFieldErrors(err, fieldName, &res)
	return res
}

func collectFieldErrors(err error, fieldName string, res *[]error) {
	if isNilErr(err) {
		return
	}
	if u, ok := err.(unpacker); ok {
		for _, e := range u.Unpack() {
			collectFieldErrors(e, fieldName, res)
		}
		return
	}
	if fe, ok := err.(*fieldError); ok {
		if fe.Fieldname == fieldName || (strings.HasSuffix(fieldName, ".") && strings.HasPrefix(fe.Fieldname, fieldName)) {
			*res = append(*res, fe)
		}
		collectFieldErrors(fe.Err, fieldName, res)
		return
	}
	if c, ok := err.(causer); ok {
		collectFieldErrors(c.Cause(), fieldName, res)
	}
}
