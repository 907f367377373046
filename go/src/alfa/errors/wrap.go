package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// withStack attaches the call site of the outermost Wrap/Wrapf/Errorf so
// that a bubbled-up error still names where it first left this module.
type withStack struct {
	wrapped error
	file    string
	line    int
}

func (err *withStack) Error() string {
	return err.wrapped.Error()
}

func (err *withStack) Unwrap() error {
	return err.wrapped
}

func caller(skip int) (file string, line int) {
	_, file, line, _ = runtime.Caller(skip)
	return file, line
}

// Wrap attaches the caller's location to err. A nil err returns nil, so
// the common `err = errors.Wrap(err); if err != nil { return err }` idiom
// is safe to call unconditionally.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	file, line := caller(2)

	return &withStack{wrapped: err, file: file, line: line}
}

// Wrapf is Wrap with a formatted message prefixed onto err.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	file, line := caller(2)

	return &withStack{
		wrapped: fmt.Errorf(format+": %w", append(args, err)...),
		file:    file,
		line:    line,
	}
}

// Errorf constructs a new error carrying the caller's location, the way
// fmt.Errorf does without one.
func Errorf(format string, args ...any) error {
	file, line := caller(2)

	return &withStack{
		wrapped: fmt.Errorf(format, args...),
		file:    file,
		line:    line,
	}
}

// New is a location-tagged equivalent of errors.New.
func New(text string) error {
	file, line := caller(2)

	return &withStack{wrapped: errors.New(text), file: file, line: line}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

// DeferredCloser closes closer and, if closing fails and *err is not
// already set, records the close error. Intended for `defer
// errors.DeferredCloser(&err, writer)` immediately after a successful
// open, so a close failure on a stream that otherwise read or wrote
// cleanly is not silently dropped.
func DeferredCloser(err *error, closer interface{ Close() error }) {
	if closeErr := closer.Close(); closeErr != nil && *err == nil {
		*err = Wrap(closeErr)
	}
}

// PanicIfError panics with err if it is non-nil. Reserved for invariants
// that indicate a programming error in this module rather than anything
// a caller or the backing store could trigger.
func PanicIfError(err error) {
	if err != nil {
		panic(err)
	}
}
