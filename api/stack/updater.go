package stack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/retry"
)

// Updater creates or updates a stack from a template.
type Updater struct {
	Backend Backend
	Retry   retry.Policy
	Log     *zap.Logger
	now     func() time.Time
}

func NewUpdater(b Backend, log *zap.Logger) *Updater {
	if log == nil {
		log = zap.NewNop()
	}
	return &Updater{Backend: b, Retry: retry.Default, Log: log, now: time.Now}
}

// Submit starts a create when the stack does not exist and an update
// otherwise. An update the remote service reports as a no-op returns an
// operation already in the no-changes state.
func (u *Updater) Submit(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (*model.StackOperation, error) {
	op := &model.StackOperation{StackName: stackName, Status: model.StackPending, SubmittedAt: u.now()}

	var exists bool
	err := retry.Do(ctx, u.Retry, func() error {
		var err error
		exists, err = u.Backend.Exists(ctx, stackName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("check stack %s: %w", stackName, err)
	}

	if !exists {
		op.Kind = model.OperationCreate
		u.Log.Info("creating stack", zap.String("stack", stackName))
		err = retry.Do(ctx, u.Retry, func() error {
			var err error
			op.ID, err = u.Backend.Create(ctx, stackName, tpl, params)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("create stack %s: %w", stackName, err)
		}
		return op, nil
	}

	op.Kind = model.OperationUpdate
	u.Log.Info("updating stack", zap.String("stack", stackName))
	err = retry.Do(ctx, u.Retry, func() error {
		var err error
		op.ID, err = u.Backend.Update(ctx, stackName, tpl, params)
		return err
	})
	if errors.Is(err, ErrNoChanges) {
		op.Status = model.StackNoChanges
		return op, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update stack %s: %w", stackName, err)
	}
	return op, nil
}
