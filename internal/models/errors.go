package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a service error so handlers and job loops can react
// without string matching.
type ErrorKind string

const (
	KindArgument              ErrorKind = "ArgumentError"
	KindValidationFailed      ErrorKind = "ValidationFailed"
	KindResolution            ErrorKind = "ResolutionError"
	KindModelAlreadyExists    ErrorKind = "ModelAlreadyExists"
	KindModelNotFound         ErrorKind = "ModelNotFound"
	KindModelExtendsChanged   ErrorKind = "ModelExtendsChanged"
	KindModelUpdateValidation ErrorKind = "ModelUpdateValidationError"
	KindModelReferences       ErrorKind = "ModelReferencesNotDeleted"
	KindTwinNotFound          ErrorKind = "DigitalTwinNotFound"
	KindRelationshipNotFound  ErrorKind = "RelationshipNotFound"
	KindComponentNotFound     ErrorKind = "ComponentNotFound"
	KindJobNotFound           ErrorKind = "JobNotFound"
	KindPreconditionFailed    ErrorKind = "PreconditionFailed"
	KindInvalidOperation      ErrorKind = "InvalidOperation"
	KindCancelled             ErrorKind = "Cancelled"
	KindTransient             ErrorKind = "Transient"
	KindInternal              ErrorKind = "Internal"
)

// ServiceError is the error type surfaced by all services. Kind drives the
// HTTP status mapping and the retry decision in job loops.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewError creates a ServiceError with the given kind and message.
func NewError(kind ErrorKind, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a new ServiceError.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or KindInternal when err is not a
// ServiceError.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error is worth retrying at a job loop
// boundary. Only store-level transport and timeout failures qualify.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransient)
}

// HTTPStatus maps an error kind to the status code the REST surface uses.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindArgument, KindValidationFailed, KindResolution:
		return 400
	case KindTwinNotFound, KindModelNotFound, KindRelationshipNotFound,
		KindComponentNotFound, KindJobNotFound:
		return 404
	case KindModelAlreadyExists, KindModelExtendsChanged,
		KindModelUpdateValidation, KindModelReferences, KindInvalidOperation:
		return 409
	case KindPreconditionFailed:
		return 412
	default:
		return 500
	}
}
