package keystore

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	MaxKeyNameLength  = 128
)

// CheckKeyName accepts letters, digits, '-' and '_' so a name is always a safe
// file name prefix.
func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if len(name) > MaxKeyNameLength {
		return fmt.Errorf("name longer than %d characters", MaxKeyNameLength)
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in name", char)
	}
	return nil
}

// CheckPassword enforces the password policy for a new password.
func CheckPassword(password, confirmation string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirmation {
		return ErrPasswordMismatch
	}
	return nil
}

func checkName(name string) error {
	if err := CheckKeyName(name); err != nil {
		return newError(KindInvalidName, "", "invalid key name: "+err.Error(), err)
	}
	return nil
}
