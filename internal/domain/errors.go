package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrReadOnlyField = errors.New("field is read-only")
	ErrValidation    = errors.New("validation failed")
	ErrRemote        = errors.New("remote service reported a failure")
	ErrTransport     = errors.New("transport failure")
	ErrDeadEntity    = errors.New("entity is no longer usable")
)

// Validation causes
var (
	ErrNoWinner         = errors.New("match has no winner")
	ErrAlreadyReported  = errors.New("match has already been reported")
	ErrNotReported      = errors.New("match has not been reported")
	ErrParentNotSaved   = errors.New("parent has not been saved")
	ErrUnknownField     = errors.New("unknown field")
	ErrGameWinCount     = errors.New("game wins do not agree with the match result")
	ErrNotPersisted     = errors.New("entity has not been saved")
	ErrNotChild         = errors.New("entity is not a child of this parent")
	ErrAlreadyAttached  = errors.New("entity already has a parent")
	ErrUnsupported      = errors.New("operation not supported for this kind")
	ErrNotParticipant   = errors.New("team is not a participant of this match")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
	ErrCacheUnavailable = errors.New("cache is not configured")
)

// ReadOnlyFieldError is returned when a local write targets a field owned by
// the remote service.
type ReadOnlyFieldError struct {
	Kind  string
	Field string
}

func (e *ReadOnlyFieldError) Error() string {
	return fmt.Sprintf("%s: field %q is read-only", e.Kind, e.Field)
}

func (e *ReadOnlyFieldError) Is(target error) bool { return target == ErrReadOnlyField }

// ValidationError is a precondition failure detected before any remote call.
type ValidationError struct {
	Kind string
	Op   string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(kind, op string, err error) error {
	return &ValidationError{Kind: kind, Op: op, Err: err}
}

// RemoteFailure means the service answered but with a non-success status.
type RemoteFailure struct {
	Service string
	Code    int
	Message string
}

func (e *RemoteFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote result %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: remote result %d: %s", e.Service, e.Code, e.Message)
}

func (e *RemoteFailure) Is(target error) bool { return target == ErrRemote }

// TransportFailure means the service could not be reached or answered with
// something that is not a result.
type TransportFailure struct {
	Service string
	Err     error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

func (e *TransportFailure) Is(target error) bool { return target == ErrTransport }

// DeadEntityError is returned by every operation on a deleted or discarded
// entity.
type DeadEntityError struct {
	Kind string
	ID   string
}

func (e *DeadEntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: entity has been discarded", e.Kind)
	}
	return fmt.Sprintf("%s %s: entity has been discarded", e.Kind, e.ID)
}

func (e *DeadEntityError) Is(target error) bool { return target == ErrDeadEntity }

// IsClientError reports whether err was caused by the caller rather than by
// the remote service or the network.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrReadOnlyField) || errors.Is(err, ErrDeadEntity)
}
