package alpaca

import (
	"errors"
	"fmt"
)

// Error is an ASCOM error reported inside an Alpaca response.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors by code, so a wrapped error with a specific message still
// matches the generic value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ASCOM error numbers
var (
	ErrNotImplemented     = &Error{0x400, "Property or method not implemented"}
	ErrInvalidValue       = &Error{0x401, "Invalid value"}
	ErrValueNotSet        = &Error{0x402, "Value not set"}
	ErrNotConnected       = &Error{0x407, "Not connected"}
	ErrInvalidWhileParked = &Error{0x408, "Invalid while parked"}
	ErrInvalidOperation   = &Error{0x40B, "Invalid operation"}
	ErrDriver             = &Error{0x500, "Driver error"}
)

// Errorf returns an error with the code of base and a formatted message.
func Errorf(base *Error, format string, args ...any) error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// errorCode returns the ASCOM error number for err. Errors that are not
// ASCOM errors are driver errors.
func errorCode(err error) int {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	return ErrDriver.Code
}
