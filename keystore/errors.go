package keystore

import "errors"

// Kind is a stable category for programmatic error handling.
// Callers should branch on Kind rather than matching error strings.
type Kind string

const (
	KindPasswordPolicy Kind = "PasswordPolicy"
	KindInvalidName    Kind = "InvalidName"
	KindAuthentication Kind = "Authentication"
	KindNotFound       Kind = "NotFound"
	KindMalformed      Kind = "Malformed"
	KindExists         Kind = "Exists"
	KindInternal       Kind = "Internal"
)

// Error is the keystore's structured error type.
//
// Message is intended for humans and never contains secret material.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

var (
	ErrPasswordTooShort = &Error{Kind: KindPasswordPolicy, Message: "password must have at least 8 characters"}
	ErrPasswordMismatch = &Error{Kind: KindPasswordPolicy, Message: "password and password confirmation have to match"}
	ErrKeyMismatch      = &Error{Kind: KindMalformed, Message: "decrypted private key does not match the stored public key"}
	ErrInvalidPhrase    = &Error{Kind: KindMalformed, Message: "recovery phrase is not a valid 24-word mnemonic"}
	ErrKeyDestroyed     = &Error{Kind: KindInternal, Message: "signing key has been destroyed"}
)

func newError(kind Kind, path, msg string, cause error) error {
	return &Error{Kind: kind, Path: path, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
