package core

import (
	"errors"
	"fmt"
)

// Code classifies every error the core surfaces to the connection layer.
// Semantic codes are never retried; StoreConflict and StoreUnavailable are
// retried internally with bounded backoff before being surfaced.
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeAliasTaken            Code = "ALIAS_TAKEN"
	CodeAlreadyExists         Code = "ALREADY_EXISTS"
	CodeForbidden             Code = "FORBIDDEN"
	CodeInsufficientPrivilege Code = "INSUFFICIENT_PRIVILEGE"
	CodeBanned                Code = "BANNED"
	CodeNotMember             Code = "NOT_MEMBER"
	CodeStoreConflict         Code = "STORE_CONFLICT"
	CodeStoreUnavailable      Code = "STORE_UNAVAILABLE"
)

// StateError is the error type returned by every core operation.
type StateError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *StateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StateError) Unwrap() error { return e.Cause }

func newError(code Code, format string, args ...interface{}) error {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, cause error, format string, args ...interface{}) error {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrCode extracts the Code from err, or empty string if err is not a
// StateError.
func ErrCode(err error) Code {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return ErrCode(err) == code
}
