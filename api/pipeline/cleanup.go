package pipeline

import (
	"context"

	"skald/api/deployments"
	"skald/api/model"
)

// Cleanup removes all but the keep most recent deployments of the
// invocation's target. A keep of zero removes nothing.
func (p *Pipeline) Cleanup(ctx context.Context, inv *Invocation, keep int) (*deployments.CleanupReport, error) {
	if keep < 0 {
		err := &model.ValidationError{Field: "keep", Reason: "must not be negative"}
		p.finish(ctx, inv, model.StatusFailed, err)
		return nil, err
	}
	var report *deployments.CleanupReport
	steps := []step{
		{name: "cleanup", fn: func(ctx context.Context, inv *Invocation) error {
			var err error
			report, err = p.prune(ctx, inv, keep)
			return err
		}},
	}
	if err := p.run(ctx, inv, steps); err != nil {
		p.finish(ctx, inv, model.StatusFailed, err)
		return nil, err
	}
	p.finish(ctx, inv, model.StatusSucceeded, nil)
	return report, nil
}
