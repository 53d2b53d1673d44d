// Package store persists the invocation history.
package store

import (
	"context"

	"skald/api/model"
)

// Recorder stores invocation records.
type Recorder interface {
	InsertInvocation(ctx context.Context, inv *model.Invocation) error
	FinishInvocation(ctx context.Context, inv *model.Invocation) error
	ListInvocations(ctx context.Context, f InvocationFilter) ([]model.Invocation, error)
}

type InvocationFilter struct {
	Service string
	Stage   string
	Kind    string
	Limit   int
}

func (f InvocationFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

func (f InvocationFilter) match(inv *model.Invocation) bool {
	return (f.Service == "" || f.Service == inv.Service) &&
		(f.Stage == "" || f.Stage == inv.Stage) &&
		(f.Kind == "" || f.Kind == string(inv.Kind))
}
