package rkmedia

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrAgain means nothing was ready within the timeout. Poll again.
	ErrAgain = errors.New("resource temporarily unavailable")

	ErrNotSupported        = errors.New("not supported by hardware")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrExternal            = errors.New("vendor engine failure")
	ErrResourceExhausted   = errors.New("hardware buffers exhausted")
	ErrStreamCorrupt       = errors.New("corrupt frame")
	ErrNotHardwareFrame    = errors.New("frame is not backed by a hardware buffer")
	ErrSessionClosed       = errors.New("session closed")
	ErrHardwareUnavailable = errors.New("hardware library not available")
)

// VendorError records a non-success status returned by a vendor SDK call.
type VendorError struct {
	Op     string // vendor call, e.g. "decode_put_packet"
	Status int32  // raw vendor status code
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: %s failed: %d", ErrExternal, e.Op, e.Status)
}

// Unwrap lets errors.Is(err, ErrExternal) match.
func (e *VendorError) Unwrap() error { return ErrExternal }

func vendorError(op string, status int32) error {
	return &VendorError{Op: op, Status: status}
}

// external wraps a vendor call failure so that it matches ErrExternal.
func external(op string, err error) error {
	if errors.Is(err, ErrExternal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrExternal, op, err)
}

// IsTransient reports whether err only means "try again later".
func IsTransient(err error) bool {
	return errors.Is(err, ErrAgain)
}

// IsFatal reports whether err must terminate the session that returned it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrExternal) || errors.Is(err, ErrResourceExhausted)
}

// errorKind is the metrics label for an error returned by a session.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAgain):
		return "again"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrResourceExhausted):
		return "exhausted"
	case errors.Is(err, ErrStreamCorrupt):
		return "corrupt"
	case errors.Is(err, ErrExternal):
		return "external"
	default:
		return "other"
	}
}
