package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/threadrelay/threadrelay/model"
)

// ErrEmptyResponse marks a turn whose backend response carried no usable text.
var ErrEmptyResponse = errors.New("backend produced no usable output")

// ErrorKind buckets a failed turn for user display.
type ErrorKind string

const (
	ErrTimeout       ErrorKind = "timeout"
	ErrRateLimited   ErrorKind = "rate-limited"
	ErrAuth          ErrorKind = "authentication"
	ErrNetwork       ErrorKind = "network"
	ErrEmpty         ErrorKind = "empty-response"
	ErrUncategorized ErrorKind = "uncategorized"
)

// ClassifiedError is the user-facing rendering of a failed turn: a short
// label plus an actionable suggestion, never a raw stack trace.
type ClassifiedError struct {
	Kind       ErrorKind
	Message    string
	Suggestion string
}

// Render produces the text written into the status message on failure.
func (c ClassifiedError) Render() string {
	return fmt.Sprintf("Request failed (%s): %s\n%s", c.Kind, c.Message, c.Suggestion)
}

// Classify buckets an error from a backend turn.
func Classify(err error) ClassifiedError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, ErrEmptyResponse):
		return ClassifiedError{
			Kind:       ErrEmpty,
			Message:    "the agent returned no output",
			Suggestion: "Try rephrasing the request.",
		}

	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return ClassifiedError{
			Kind:       ErrTimeout,
			Message:    "the request took too long",
			Suggestion: "Try a smaller task, or try again.",
		}

	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "429"):
		return ClassifiedError{
			Kind:       ErrRateLimited,
			Message:    "the backend is throttling requests",
			Suggestion: "Wait a moment and try again.",
		}

	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "invalid_auth"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "403"):
		return ClassifiedError{
			Kind:       ErrAuth,
			Message:    "credentials were rejected",
			Suggestion: "Check the backend authentication configuration.",
		}

	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "broken pipe"):
		return ClassifiedError{
			Kind:       ErrNetwork,
			Message:    "could not reach the agent backend",
			Suggestion: "Check that the backend is running.",
		}

	default:
		return ClassifiedError{
			Kind:       ErrUncategorized,
			Message:    model.Truncate(msg, 100),
			Suggestion: "Try again, or rephrase the request.",
		}
	}
}
