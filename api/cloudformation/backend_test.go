package cloudformation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfn "github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/model"
	"skald/api/retry"
	"skald/api/stack"
)

type fakeAPI struct {
	stacks      []types.Stack
	describeErr error
	createIn    *cfn.CreateStackInput
	updateIn    *cfn.UpdateStackInput
	updateErr   error
	events      []types.StackEvent
}

func (f *fakeAPI) DescribeStacks(ctx context.Context, in *cfn.DescribeStacksInput, _ ...func(*cfn.Options)) (*cfn.DescribeStacksOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &cfn.DescribeStacksOutput{Stacks: f.stacks}, nil
}

func (f *fakeAPI) CreateStack(ctx context.Context, in *cfn.CreateStackInput, _ ...func(*cfn.Options)) (*cfn.CreateStackOutput, error) {
	f.createIn = in
	return &cfn.CreateStackOutput{StackId: aws.String("arn:stack/svc-dev/1")}, nil
}

func (f *fakeAPI) UpdateStack(ctx context.Context, in *cfn.UpdateStackInput, _ ...func(*cfn.Options)) (*cfn.UpdateStackOutput, error) {
	f.updateIn = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &cfn.UpdateStackOutput{StackId: aws.String("arn:stack/svc-dev/1")}, nil
}

func (f *fakeAPI) DescribeStackEvents(ctx context.Context, in *cfn.DescribeStackEventsInput, _ ...func(*cfn.Options)) (*cfn.DescribeStackEventsOutput, error) {
	return &cfn.DescribeStackEventsOutput{StackEvents: f.events}, nil
}

func validationErr(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationError", Message: msg}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[string]model.StackStatus{
		"CREATE_IN_PROGRESS":                  model.StackInProgress,
		"UPDATE_COMPLETE_CLEANUP_IN_PROGRESS": model.StackInProgress,
		"CREATE_COMPLETE":                     model.StackComplete,
		"UPDATE_COMPLETE":                     model.StackComplete,
		"CREATE_FAILED":                       model.StackFailed,
		"ROLLBACK_IN_PROGRESS":                model.StackFailed,
		"UPDATE_ROLLBACK_IN_PROGRESS":         model.StackFailed,
		"UPDATE_ROLLBACK_COMPLETE":            model.StackFailed,
		"ROLLBACK_COMPLETE":                   model.StackFailed,
		"DELETE_IN_PROGRESS":                  model.StackFailed,
		"DELETE_COMPLETE":                     model.StackFailed,
		"DELETE_FAILED":                       model.StackFailed,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), status)
	}
}

func TestClassifyErrors(t *testing.T) {
	assert.ErrorIs(t, classify(&smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}), model.ErrThrottled)
	assert.ErrorIs(t, classify(&smithy.GenericAPIError{Code: "AccessDenied"}), model.ErrForbidden)
	assert.ErrorIs(t, classify(validationErr("Stack with id svc-dev does not exist")), model.ErrNotFound)
	assert.False(t, model.IsTransient(classify(validationErr("Template format error"))))
	assert.Nil(t, classify(nil))
}

func TestExists(t *testing.T) {
	f := &fakeAPI{describeErr: validationErr("Stack with id svc-dev does not exist")}
	b := NewBackend(f, nil)

	ok, err := b.Exists(context.Background(), "svc-dev")
	require.NoError(t, err)
	assert.False(t, ok)

	f.describeErr = nil
	f.stacks = []types.Stack{{StackName: aws.String("svc-dev"), StackStatus: types.StackStatusCreateComplete}}
	ok, err = b.Exists(context.Background(), "svc-dev")
	require.NoError(t, err)
	assert.True(t, ok)

	f.describeErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	_, err = b.Exists(context.Background(), "svc-dev")
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestHealthy(t *testing.T) {
	f := &fakeAPI{}
	b := NewBackend(f, nil)
	assert.NoError(t, b.Healthy(context.Background()))

	f.describeErr = &smithy.GenericAPIError{Code: "ExpiredToken"}
	assert.ErrorIs(t, b.Healthy(context.Background()), model.ErrForbidden)
}

func TestCreateUsesTemplateURL(t *testing.T) {
	f := &fakeAPI{}
	b := NewBackend(f, nil)

	id, err := b.Create(context.Background(), "svc-dev", model.Template{URL: "https://s3/bucket/key", Body: []byte("{}")},
		map[string]string{"B": "2", "A": "1"})
	require.NoError(t, err)
	assert.Equal(t, "arn:stack/svc-dev/1", id)
	assert.Equal(t, "https://s3/bucket/key", aws.ToString(f.createIn.TemplateURL))
	assert.Nil(t, f.createIn.TemplateBody)
	require.Len(t, f.createIn.Parameters, 2)
	assert.Equal(t, "A", aws.ToString(f.createIn.Parameters[0].ParameterKey))
}

func TestUpdateNoChanges(t *testing.T) {
	f := &fakeAPI{updateErr: validationErr("No updates are to be performed.")}
	b := NewBackend(f, nil)

	_, err := b.Update(context.Background(), "svc-dev", model.Template{Body: []byte("{}")}, nil)
	assert.True(t, errors.Is(err, stack.ErrNoChanges))
	assert.Equal(t, "{}", aws.ToString(f.updateIn.TemplateBody))
}

func TestDescribeAndEvents(t *testing.T) {
	submitted := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeAPI{
		stacks: []types.Stack{{
			StackStatus:       types.StackStatusUpdateRollbackComplete,
			StackStatusReason: aws.String("The following resource(s) failed to update: [Fn]."),
		}},
		events: []types.StackEvent{
			{Timestamp: aws.Time(submitted.Add(2 * time.Minute)), LogicalResourceId: aws.String("svc-dev"), ResourceStatus: types.ResourceStatusUpdateComplete},
			{Timestamp: aws.Time(submitted.Add(time.Minute)), LogicalResourceId: aws.String("Fn"), ResourceStatus: types.ResourceStatusUpdateFailed, ResourceStatusReason: aws.String("Runtime not supported")},
			{Timestamp: aws.Time(submitted.Add(-time.Hour)), LogicalResourceId: aws.String("Old"), ResourceStatus: types.ResourceStatusCreateFailed},
		},
	}
	b := NewBackend(f, nil)
	op := model.StackOperation{ID: "arn:stack/svc-dev/1", StackName: "svc-dev", SubmittedAt: submitted}

	obs, err := b.Describe(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, model.StackFailed, obs.Status)
	assert.Equal(t, "UPDATE_ROLLBACK_COMPLETE", obs.Raw)
	assert.Contains(t, obs.Reason, "[Fn]")

	events, err := b.Events(context.Background(), op)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Fn", events[0].Resource)
	assert.Equal(t, "Runtime not supported", events[0].Reason)
}

func TestFailedCreateIsNotReportedAsSuccess(t *testing.T) {
	f := &fakeAPI{describeErr: validationErr("Stack with id svc-dev does not exist")}
	b := NewBackend(f, nil)
	fast := retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	u := stack.NewUpdater(b, nil)
	u.Retry = fast
	op, err := u.Submit(context.Background(), "svc-dev", model.Template{URL: "https://bucket/tpl.json"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.OperationCreate, op.Kind)
	assert.Equal(t, types.OnFailureDelete, f.createIn.OnFailure)

	f.describeErr = nil
	f.stacks = []types.Stack{{
		StackName:         aws.String("svc-dev"),
		StackStatus:       types.StackStatusDeleteComplete,
		StackStatusReason: aws.String("The following resource(s) failed to create: [Fn]."),
	}}

	m := stack.NewMonitor(b, nil)
	m.Interval = time.Millisecond
	m.Timeout = 5 * time.Second
	m.Retry = fast

	out, err := m.Await(context.Background(), *op)
	require.Error(t, err)

	var failure *model.OperationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "DELETE_COMPLETE", failure.Status)
	assert.Equal(t, stack.PhaseFailed, out.Phase)
	assert.Equal(t, model.OutcomeFailed, out.Result)
}
