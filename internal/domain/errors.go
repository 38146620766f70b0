package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	// ErrInstanceNotFound is returned by the registry when no instance
	// matches the given identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrNotFound is returned by resource managers when the requested
	// resource does not exist. Rollback treats it as success.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned by resource managers when an
	// idempotent create collides with an existing resource of the same
	// key. Callers of resource managers treat it as success.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPropagationTimeout is returned when a DNS change did not reach
	// an in-sync status within the allowed wait. Non-fatal: provisioning
	// proceeds on the assumption propagation completes shortly after.
	ErrPropagationTimeout = errors.New("dns propagation timed out")
)

// SlugConflictError is returned when an instance slug is already in use
// by a non-terminated instance.
type SlugConflictError struct {
	Slug string
}

func (e *SlugConflictError) Error() string {
	return fmt.Sprintf("slug %q is already in use", e.Slug)
}

// RequestConflictError is returned when an intake request id has already
// produced an instance. Provisioning is idempotent per request id.
type RequestConflictError struct {
	RequestID  string
	InstanceID string
}

func (e *RequestConflictError) Error() string {
	return fmt.Sprintf("request %q already provisioned instance %q", e.RequestID, e.InstanceID)
}

// TransitionError is returned when a lifecycle state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// InvalidConfigurationError is returned when a generator or manager is
// given a configuration it cannot act on.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// IntakeValidationError is returned to the triggering caller when the
// intake is rejected before any background work starts.
type IntakeValidationError struct {
	Field  string
	Reason string
}

func (e *IntakeValidationError) Error() string {
	return fmt.Sprintf("intake field %q %s", e.Field, e.Reason)
}

// StageError wraps a resource manager failure with the provisioning stage
// at which it occurred. Any StageError aborts the stage sequence and
// triggers rollback.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("provisioning stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
