package model

import "errors"

var (
	ErrTransport         = errors.New("transport error")
	ErrConfiguration     = errors.New("configuration error")
	ErrPrecondition      = errors.New("precondition error")
	ErrPurgeConfirmation = errors.New("purge confirmation error")
)

// ErrorKind names the error kind carried by err, or "" when err is not one
// of the pool's error kinds.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrPrecondition):
		return "PreconditionError"
	case errors.Is(err, ErrPurgeConfirmation):
		return "PurgeConfirmationError"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	default:
		return ""
	}
}
