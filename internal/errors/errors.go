package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	CodeActionPlan    Code = 20
	CodeActionSim     Code = 21
	CodeSigner        Code = 22
	CodeActionTimeout Code = 23

	// Trading taxonomy.
	CodeConfig        Code = 30
	CodeLiquidity     Code = 31
	CodeNonceConflict Code = 32
	CodeBroadcast     Code = 33
	CodeReverted      Code = 34
	CodeInsufficient  Code = 35
)

// Error is a typed CLI error that carries a stable error code.
// Message is the human-facing reason; Cause keeps the raw provider error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		cErr, ok := As(err)
		if !ok {
			return false
		}
		if cErr.Code == code {
			return true
		}
		err = cErr.Cause
	}
	return false
}

// Reason returns the human-facing message of a typed error, or the plain error text.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if cErr, ok := As(err); ok && cErr.Message != "" {
		return cErr.Message
	}
	return err.Error()
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
