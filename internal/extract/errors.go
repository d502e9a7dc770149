package extract

import (
	"errors"
	"fmt"
)

// Kind classifies user-visible extraction failures. Heuristic misses inside
// a scoring pass are never surfaced as errors of any kind.
type Kind string

// Failure kinds exposed to callers.
const (
	KindInvalidInput      Kind = "invalid_input"
	KindRateLimited       Kind = "rate_limited"
	KindNavigationFailure Kind = "navigation_failure"
	KindFetchFailure      Kind = "fetch_failure"
)

// Error is a typed extraction failure. The message is safe to show to
// callers; selector names and DOM details stay in the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed extraction failure wrapping cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the failure kind of err, or KindFetchFailure when err is
// not a typed extraction error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFetchFailure
}
