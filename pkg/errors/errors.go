package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Failure taxonomy surfaced to the display layer
	ErrorTypeSpawnFailure     ErrorType = "spawn_failure"
	ErrorTypeConnectivity     ErrorType = "connectivity"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeServiceRejection ErrorType = "service_rejection"
	ErrorTypeProcessCrash     ErrorType = "process_crash"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsProcessError(err error) bool {
	return hasType(err, ErrorTypeProcess)
}

func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return hasType(err, ErrorTypeCancelled)
}

func IsSpawnFailure(err error) bool {
	return hasType(err, ErrorTypeSpawnFailure)
}

func IsConnectivityError(err error) bool {
	return hasType(err, ErrorTypeConnectivity)
}

func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsServiceRejection(err error) bool {
	return hasType(err, ErrorTypeServiceRejection)
}

func IsProcessCrash(err error) bool {
	return hasType(err, ErrorTypeProcessCrash)
}

// hasType matches both DomainError and ClassifiedError in the chain
func hasType(err error, errorType ErrorType) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.Kind == errorType {
		return true
	}
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// Error aggregation for shutdown paths that keep going after a failure
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
