// Package stack submits templates to a remote orchestration service and
// watches the resulting operation until it settles.
package stack

import (
	"context"
	"errors"

	"skald/api/model"
)

// ErrNoChanges is returned by Backend.Update when the submitted template
// and parameters match what the stack already runs.
var ErrNoChanges = errors.New("no updates are to be performed")

// Observation is one poll of a stack operation.
type Observation struct {
	Status model.StackStatus
	Raw    string // status as the remote service reported it
	Reason string
}

// Backend is an orchestration service. Implementations translate their
// errors into the model error set (ErrNotFound, ErrThrottled, ...).
type Backend interface {
	// Exists reports whether the stack has been created.
	Exists(ctx context.Context, stackName string) (bool, error)
	Create(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (operationID string, err error)
	Update(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (operationID string, err error)
	// Describe polls the operation once and classifies the remote status.
	Describe(ctx context.Context, op model.StackOperation) (Observation, error)
	// Events returns failure diagnostics for the operation.
	Events(ctx context.Context, op model.StackOperation) ([]model.StackEvent, error)
}
