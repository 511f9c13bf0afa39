package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry policy.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"         // duplicate active session
	KindVersionConflict Kind = "version_conflict" // optimistic concurrency clash
	KindInfraTimeout    Kind = "infra_timeout"    // upstream collaborator unresponsive
	KindDispatchFailure Kind = "dispatch_failure" // export transport error, retryable
	KindBadRequest      Kind = "bad_request"
)

type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(what string) *AppError {
	return &AppError{Kind: KindNotFound, Message: what + " not found"}
}

func Conflict(msg string) *AppError {
	return &AppError{Kind: KindConflict, Message: msg}
}

func VersionConflict(msg string) *AppError {
	return &AppError{Kind: KindVersionConflict, Message: msg}
}

func InfraTimeout(msg string, err error) *AppError {
	return &AppError{Kind: KindInfraTimeout, Message: msg, Err: err}
}

func DispatchFailure(msg string, err error) *AppError {
	return &AppError{Kind: KindDispatchFailure, Message: msg, Err: err}
}

func BadRequest(msg string) *AppError {
	return &AppError{Kind: KindBadRequest, Message: msg}
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return IsKind(err, KindInfraTimeout) || IsKind(err, KindDispatchFailure)
}
