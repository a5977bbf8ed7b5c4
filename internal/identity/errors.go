package identity

import (
	"errors"
	"fmt"
)

// Error codes returned by the provider. The first four mirror the codes a
// hosted identity service reports; the rest are local checks.
const (
	CodeUserNotFound          = "user-not-found"
	CodeWrongPassword         = "wrong-password"
	CodeEmailAlreadyInUse     = "email-already-in-use"
	CodeInvalidEmail          = "invalid-email"
	CodeWeakPassword          = "weak-password"
	CodeMissingFields         = "missing-fields"
	CodeProviderNotConfigured = "provider-not-configured"
	CodeInvalidState          = "invalid-state"
	CodeInvalidSession        = "invalid-session"
)

// Fallback messages shown when an error has no specific mapping.
const (
	GenericLoginFailure    = "Failed to log in. Try again."
	GenericRegisterFailure = "Failed to create account. Try again."
)

const MinPasswordLength = 6

// Error is a provider failure identified by Code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Code, e.Err)
	}
	return "identity: " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code string) error { return &Error{Code: code} }

// Code extracts the provider code from err, or "" if err is not an *Error.
func Code(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

var messages = map[string]string{
	CodeUserNotFound:      "No account found with that email.",
	CodeWrongPassword:     "Incorrect password.",
	CodeEmailAlreadyInUse: "This email is already registered.",
	CodeInvalidEmail:      "Invalid email address.",
	CodeWeakPassword:      fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength),
	CodeMissingFields:     "Please fill in both fields.",
}

// Message maps err to the string shown to the user; unknown errors get fallback.
func Message(err error, fallback string) string {
	if msg, ok := messages[Code(err)]; ok {
		return msg
	}
	return fallback
}
