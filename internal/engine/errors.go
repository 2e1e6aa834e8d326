package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the outcome code the storage engine attaches to a finished
// request or transfer.
type ErrorCode int

const (
	OK           ErrorCode = 0
	EInternal    ErrorCode = -1
	EArgs        ErrorCode = -2
	EAgain       ErrorCode = -3
	ERateLimit   ErrorCode = -4
	EFailed      ErrorCode = -5
	ENoent       ErrorCode = -9
	EAccess      ErrorCode = -11
	EExist       ErrorCode = -12
	EIncomplete  ErrorCode = -13
	ESid         ErrorCode = -15
	EOverQuota   ErrorCode = -17
	ETempUnavail ErrorCode = -18
	EWrite       ErrorCode = -20
	ERead        ErrorCode = -21
)

var codeText = map[ErrorCode]string{
	OK:           "No error",
	EInternal:    "Internal error",
	EArgs:        "Invalid argument",
	EAgain:       "Request failed, retrying",
	ERateLimit:   "Rate limit exceeded",
	EFailed:      "Failed permanently",
	ENoent:       "Not found",
	EAccess:      "Access denied",
	EExist:       "Already exists",
	EIncomplete:  "Incomplete",
	ESid:         "Invalid or expired session",
	EOverQuota:   "Transfer quota exceeded",
	ETempUnavail: "Temporarily not available",
	EWrite:       "Write error",
	ERead:        "Read error",
}

func (c ErrorCode) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (%d)", int(c))
}

// Error is an engine outcome other than success. Value carries code-specific
// detail; for EOverQuota it is the advertised cooldown in seconds.
type Error struct {
	Code  ErrorCode
	Value int64
	Err   error // underlying cause, if any
}

// NewError returns an *Error for code, or nil when code is OK.
func NewError(code ErrorCode, value int64) error {
	if code == OK {
		return nil
	}
	return &Error{Code: code, Value: value}
}

// Wrap attaches code to a lower level error.
func Wrap(code ErrorCode, err error) error {
	if code == OK {
		return nil
	}
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: ENoent}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf classifies any error into an ErrorCode.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) {
		return EIncomplete
	}
	return EFailed
}

// ValueOf returns the code-specific value of err, or 0.
func ValueOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.Value
	}
	return 0
}
