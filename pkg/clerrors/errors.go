package clerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for quick errors.Is checks.
var (
	ErrClosed     = errors.New("clone closed")
	ErrNoPeer     = errors.New("no live peer")
	ErrTimeout    = errors.New("request timed out")
	ErrCorruption = errors.New("journal corruption")
	ErrOverflow   = errors.New("reorder buffer overflow")
)

// Error is the interface satisfied by every typed error in this package.
type Error interface {
	error
	Code() string
	Unwrap() error
}

// BaseError is the common shape for all typed errors here.
type BaseError struct {
	code    string
	message string
	cause   error
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *BaseError) Code() string    { return e.code }
func (e *BaseError) Unwrap() error   { return e.cause }
func (e *BaseError) Message() string { return e.message }

func newBase(code, message string, cause error) *BaseError {
	return &BaseError{code: code, message: message, cause: cause}
}

// BadUpdate reports a malformed patch or an unsupported update feature.
func BadUpdate(reason string) error {
	return newBase(CodeBadUpdate, "bad update: "+reason, nil)
}

// BadClock reports that a time value could not be parsed.
func BadClock(cause error) error {
	return newBase(CodeBadClock, "bad clock", cause)
}

// Unauthorised reports a missing or invalid principal for a statutory
// change.
func Unauthorised(reason string) error {
	return newBase(CodeUnauthorised, "unauthorised: "+reason, nil)
}

// OperationSizeExceeded reports that an encoded operation exceeded the
// configured byte cap.
func OperationSizeExceeded(size, max int) error {
	return newBase(CodeOperationSizeExceeded,
		fmt.Sprintf("operation size %d exceeds limit %d", size, max), nil)
}

// DatasetInUse reports that two engines tried to open the same dataset.
func DatasetInUse(id string) error {
	return newBase(CodeDatasetInUse, "dataset already in use: "+id, nil)
}

// NotGenesis reports that a clone is not genesis where a genesis clone
// was required. Nothing in this module returns it: a genesis-flagged
// clone opening a non-empty store gets IsGenesis.
func NotGenesis() error {
	return newBase(CodeNotGenesis, "clone is not genesis", nil)
}

// IsGenesis reports that a genesis-flagged clone found existing state
// claiming otherwise.
func IsGenesis() error {
	return newBase(CodeIsGenesis, "clone is genesis", nil)
}

// NoPeer reports that remotes were not live when a peer was required.
func NoPeer() error {
	return newBase(CodeNoPeer, "no live peer", ErrNoPeer)
}

// Timeout reports that a request/reply exceeded networkTimeout.
func Timeout(operation string) error {
	return newBase(CodeTimeout, operation+" timed out", ErrTimeout)
}

// Closed reports that an operation was issued against a closed engine.
func Closed() error {
	return newBase(CodeClosed, "clone is closed", ErrClosed)
}

// Corruption reports a missing referenced operation or journal entry.
// Corruption is fatal: the caller must transition to closed.
func Corruption(reason string) error {
	return newBase(CodeCorruption, "corruption: "+reason, ErrCorruption)
}

// Overflow reports that the causal reorder buffer exceeded its
// configured capacity; the caller should request a fresh snapshot.
func Overflow(size int) error {
	return newBase(CodeOverflow, fmt.Sprintf("reorder buffer overflow at %d messages", size), ErrOverflow)
}

// Wrap adds context to err while preserving its code, if any.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed Error
	if errors.As(err, &typed) {
		return newBase(typed.Code(), message, err)
	}
	return newBase(CodeInternal, message, err)
}

// Code extracts the code from err, or "" if err is not typed.
func Code(err error) string {
	var typed Error
	if errors.As(err, &typed) {
		return typed.Code()
	}
	return ""
}

// Is reports whether err (or something it wraps) carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}
