package signer

import "errors"

var (
	// ErrEncoding matches every *Error.
	ErrEncoding = errors.New("signer: artifact field fails canonical encoding")
	// ErrSignature reports a signed artifact whose signature does not verify.
	ErrSignature = errors.New("signer: signature verification failed")
)

// Error is a canonicalization failure on a single artifact field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return "invalid artifact - " + e.Message
	}
	return "invalid " + e.Field + " - " + e.Message
}

func (e *Error) Is(target error) bool { return target == ErrEncoding }

func fieldError(field, msg string) error {
	return &Error{Field: field, Message: msg}
}
