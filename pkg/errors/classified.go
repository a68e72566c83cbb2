package errors

import (
	"context"
	"errors"
	"fmt"
)

const (
	// TimeoutStatusCode is reported for deadline expiry, mirroring HTTP 408
	TimeoutStatusCode = 408

	// NetworkStatusCode is reported when the service could not be reached at all
	NetworkStatusCode = 0

	// TimeoutMessage is shown to the user when an analysis call exceeds its deadline.
	TimeoutMessage = "The website analysis is taking longer than expected. This could be because:\n" +
		"1. The website is slow to respond\n" +
		"2. There are many pages to analyze\n" +
		"Try:\n" +
		"• Analyzing fewer pages (use Advanced Options)\n" +
		"• Using single page analysis instead\n" +
		"• Trying again later"

	// NetworkErrorMessage is shown after all connectivity retries are exhausted.
	NetworkErrorMessage = "Network error - please check your connection and try again"

	// DefaultRejectionMessage is used when the service rejects a request without detail.
	DefaultRejectionMessage = "An error occurred"
)

// ClassifiedError is the only error shape that crosses the Bridge.
// Retryable errors carry the attempt that produced them; terminal errors do not.
type ClassifiedError struct {
	Kind       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Attempt    int
	Cause      error
}

func (e *ClassifiedError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s (attempt %d): %s", e.Kind, e.Attempt, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the human-readable text meant for the display layer
func (e *ClassifiedError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return DefaultRejectionMessage
}

// IsTerminal reports whether the caller must stop retrying
func (e *ClassifiedError) IsTerminal() bool {
	return !e.Retryable
}

// NewRetryableError creates a retryable error for the given attempt
func NewRetryableError(kind ErrorType, attempt int, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Retryable: true,
		Attempt:   attempt,
		Cause:     cause,
	}
}

// NewTerminalError creates a terminal error with the status code exposed to the caller
func NewTerminalError(kind ErrorType, statusCode int, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

func NewTimeoutError(cause error) *ClassifiedError {
	return NewTerminalError(ErrorTypeTimeout, TimeoutStatusCode, TimeoutMessage, cause)
}

func NewConnectivityError(cause error) *ClassifiedError {
	return NewTerminalError(ErrorTypeConnectivity, NetworkStatusCode, NetworkErrorMessage, cause)
}

func NewServiceRejection(statusCode int, detail string) *ClassifiedError {
	if detail == "" {
		detail = DefaultRejectionMessage
	}
	return NewTerminalError(ErrorTypeServiceRejection, statusCode, detail, nil)
}

func NewSpawnFailure(message string, cause error) *ClassifiedError {
	return NewTerminalError(ErrorTypeSpawnFailure, 0, message, cause)
}

func NewProcessCrash(message string, cause error) *ClassifiedError {
	return NewTerminalError(ErrorTypeProcessCrash, 0, message, cause)
}

// AsClassified extracts a ClassifiedError from the chain
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// Classify guarantees a ClassifiedError for any error, so no raw transport
// error reaches the display layer unclassified.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if classified, ok := AsClassified(err); ok {
		return classified
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Type {
		case ErrorTypeValidation:
			return NewTerminalError(ErrorTypeValidation, 400, domainErr.Message, err)
		case ErrorTypeCancelled:
			return NewTerminalError(ErrorTypeCancelled, 499, domainErr.Message, err)
		case ErrorTypeSpawnFailure, ErrorTypeConnectivity, ErrorTypeTimeout,
			ErrorTypeServiceRejection, ErrorTypeProcessCrash:
			return NewTerminalError(domainErr.Type, 0, domainErr.Message, err)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(err)
	case errors.Is(err, context.Canceled):
		return NewTerminalError(ErrorTypeCancelled, 499, "request was cancelled", err)
	}

	return NewTerminalError(ErrorTypeInternal, 500, err.Error(), err)
}
