package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a remote object or stack does not exist.
	ErrNotFound = errors.New("not found")

	// ErrThrottled indicates the remote service rejected the call for rate reasons.
	ErrThrottled = errors.New("throttled")

	// ErrForbidden indicates the credentials lack permission for the call.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable indicates a brief connectivity or availability failure.
	ErrUnavailable = errors.New("unavailable")

	ErrDeploymentsNotFound = errors.New("couldn't find any existing deployments, please verify that stage and region are correct")
	ErrDeploymentNotFound  = errors.New("deployment not found")
)

// ValidationError reports caller-supplied input that can never succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}

// DeploymentNotFoundError is returned by rollback when no stored deployment
// matches the requested timestamp.
type DeploymentNotFoundError struct {
	Timestamp string
}

func (e *DeploymentNotFoundError) Error() string {
	return fmt.Sprintf("couldn't find a deployment for the timestamp: %s, please verify that the timestamp, stage and region are correct", e.Timestamp)
}

func (e *DeploymentNotFoundError) Unwrap() error { return ErrDeploymentNotFound }

// OperationFailure is a create/update the orchestration service itself
// reported as failed (including rolled back).
type OperationFailure struct {
	Stack  string
	Status string
	Reason string
	Events []StackEvent
}

func (e *OperationFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stack %s: %s", e.Stack, e.Status)
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	for _, evt := range e.Events {
		fmt.Fprintf(&b, "\n  %s %s: %s", evt.Resource, evt.Status, evt.Reason)
	}
	return b.String()
}

// MonitorError means the monitor stopped observing the operation before it
// reached a terminal state. The remote operation itself may still succeed.
type MonitorError struct {
	Stack string
	Err   error
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("monitor stack %s: %v", e.Stack, e.Err)
}

func (e *MonitorError) Unwrap() error { return e.Err }
