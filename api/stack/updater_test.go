package stack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/model"
	"skald/api/retry"
)

var fastRetry = retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func newTestUpdater(b Backend) *Updater {
	u := NewUpdater(b, nil)
	u.Retry = fastRetry
	return u
}

func TestSubmitCreatesMissingStack(t *testing.T) {
	b := &scripted{}
	tpl := model.Template{URL: "https://bucket/key"}

	op, err := newTestUpdater(b).Submit(context.Background(), "svc-dev", tpl, map[string]string{"A": "1"})
	require.NoError(t, err)

	assert.Equal(t, model.OperationCreate, op.Kind)
	assert.Equal(t, model.StackPending, op.Status)
	assert.Equal(t, "create-1", op.ID)
	assert.Equal(t, "svc-dev", op.StackName)
	assert.False(t, op.SubmittedAt.IsZero())
	assert.Equal(t, 1, b.created)
	assert.Zero(t, b.updated)
	assert.Equal(t, tpl, b.lastTemplate)
	assert.Equal(t, "1", b.lastParams["A"])
}

func TestSubmitUpdatesExistingStack(t *testing.T) {
	b := &scripted{exists: true}

	op, err := newTestUpdater(b).Submit(context.Background(), "svc-dev", model.Template{Body: []byte("{}")}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.OperationUpdate, op.Kind)
	assert.Equal(t, "update-1", op.ID)
	assert.Equal(t, 1, b.updated)
	assert.Zero(t, b.created)
}

func TestSubmitNoChanges(t *testing.T) {
	b := &scripted{exists: true, updateErr: ErrNoChanges}

	op, err := newTestUpdater(b).Submit(context.Background(), "svc-dev", model.Template{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StackNoChanges, op.Status)
}

func TestSubmitRetriesTransientExistsCheck(t *testing.T) {
	b := &scripted{existsErr: []error{model.ErrThrottled, model.ErrUnavailable}}

	op, err := newTestUpdater(b).Submit(context.Background(), "svc-dev", model.Template{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OperationCreate, op.Kind)
}

func TestSubmitPermanentError(t *testing.T) {
	b := &scripted{existsErr: []error{model.ErrForbidden}}

	_, err := newTestUpdater(b).Submit(context.Background(), "svc-dev", model.Template{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrForbidden))
	assert.Zero(t, b.created)
}
