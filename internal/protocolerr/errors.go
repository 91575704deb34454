// Package protocolerr defines the recoverable error taxonomy of the
// authorization protocol. Every error here surfaces at the request
// boundary as a structured response; none should crash the process.
package protocolerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code returned to API callers.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidRedirect      Code = "INVALID_REDIRECT"
	CodeExpired              Code = "EXPIRED"
	CodeAlreadyConsumed      Code = "ALREADY_CONSUMED"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeDecryptionFailed     Code = "DECRYPTION_FAILED"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
)

// Error carries an HTTP status and machine code alongside the message.
type Error struct {
	Code    Code
	Status  int
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is match two protocol errors by code.
func (e *Error) Is(target error) bool {
	var pe *Error
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

func newErr(code Code, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

// NotFound means an unknown client_id, token, or request.
func NotFound(msg string) *Error {
	return newErr(CodeNotFound, http.StatusNotFound, msg)
}

// InvalidRedirect means the redirect URI is not in the company's whitelist.
func InvalidRedirect(msg string) *Error {
	return newErr(CodeInvalidRedirect, http.StatusBadRequest, msg)
}

// Expired means an access code or token was presented past its window.
func Expired(msg string) *Error {
	return newErr(CodeExpired, http.StatusBadRequest, msg)
}

// AlreadyConsumed means a single-use access code was presented twice.
func AlreadyConsumed(msg string) *Error {
	return newErr(CodeAlreadyConsumed, http.StatusBadRequest, msg)
}

// AuthenticationFailed means a bad secret key or bad bearer token.
func AuthenticationFailed(msg string) *Error {
	return newErr(CodeAuthenticationFailed, http.StatusUnauthorized, msg)
}

// DecryptionFailed means stored ciphertext failed authentication.
func DecryptionFailed(msg string, err error) *Error {
	e := newErr(CodeDecryptionFailed, http.StatusInternalServerError, msg)
	e.wrapped = err
	return e
}

// ValidationFailed means a malformed request shape or field vocabulary.
func ValidationFailed(msg string) *Error {
	return newErr(CodeValidationFailed, http.StatusBadRequest, msg)
}

// LimitExceeded means the per-company API key cap was reached.
func LimitExceeded(msg string) *Error {
	return newErr(CodeLimitExceeded, http.StatusBadRequest, msg)
}

// StatusFor returns the HTTP status and code for err, defaulting to a
// 500 internal error for anything outside the taxonomy.
func StatusFor(err error) (int, Code) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status, pe.Code
	}
	return http.StatusInternalServerError, "INTERNAL"
}
