package domain

import (
	"errors"
	"fmt"
)

// Code classifies an expected outcome of a core operation
type Code string

// Code constants
const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidStatus   Code = "INVALID_STATUS"
	CodeAlreadyClaimed  Code = "ALREADY_CLAIMED"
	CodeClaimFailed     Code = "CLAIM_FAILED"
	CodeAtCapacity      Code = "AT_CAPACITY"
	CodeNotOnline       Code = "NOT_ONLINE"
	CodeHandoffDisabled Code = "HANDOFF_DISABLED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is a typed outcome. Guard failures and race losses are returned as
// *Error values, never as generic errors.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a typed error
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of a typed error, or CodeInternal for anything else
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Repository-level sentinel errors
var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write affected zero rows
	ErrConflict = errors.New("conditional update affected no rows")

	// ErrAgentAtCapacity is returned when a conditional load increment found no spare capacity
	ErrAgentAtCapacity = errors.New("agent at capacity")

	// ErrAgentNotOnline is returned when the agent has no online availability record
	ErrAgentNotOnline = errors.New("agent not online")

	// ErrGenerationTimeout is returned when text generation exceeds its budget
	ErrGenerationTimeout = errors.New("text generation timed out")
)
