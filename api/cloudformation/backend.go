package cloudformation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfn "github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/stack"
)

var capabilities = []types.Capability{
	types.CapabilityCapabilityIam,
	types.CapabilityCapabilityNamedIam,
	types.CapabilityCapabilityAutoExpand,
}

// Backend implements stack.Backend with CloudFormation.
type Backend struct {
	api API
	log *zap.Logger
}

var _ stack.Backend = (*Backend)(nil)

func NewBackend(api API, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{api: api, log: log}
}

func parameters(params map[string]string) []types.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Parameter{ParameterKey: aws.String(k), ParameterValue: aws.String(params[k])})
	}
	return out
}

func (b *Backend) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	out, err := b.api.DescribeStacks(ctx, &cfn.DescribeStacksInput{StackName: aws.String(stackName)})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s: %w", stackName, model.ErrNotFound)
	}
	return &out.Stacks[0], nil
}

func (b *Backend) Exists(ctx context.Context, stackName string) (bool, error) {
	_, err := b.describe(ctx, stackName)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("describe stack: %w", err)
	}
	return true, nil
}

// Healthy checks that the credentials can call CloudFormation.
func (b *Backend) Healthy(ctx context.Context) error {
	_, err := b.api.DescribeStacks(ctx, &cfn.DescribeStacksInput{})
	return classify(err)
}

func (b *Backend) Create(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (string, error) {
	in := &cfn.CreateStackInput{
		StackName:    aws.String(stackName),
		Capabilities: capabilities,
		Parameters:   parameters(params),
		OnFailure:    types.OnFailureDelete,
		Tags:         []types.Tag{{Key: aws.String("skald:stack"), Value: aws.String(stackName)}},
	}
	if tpl.URL != "" {
		in.TemplateURL = aws.String(tpl.URL)
	} else {
		in.TemplateBody = aws.String(string(tpl.Body))
	}
	out, err := b.api.CreateStack(ctx, in)
	if err != nil {
		return "", fmt.Errorf("create stack: %w", classify(err))
	}
	b.log.Info("stack create started", zap.String("stack", stackName), zap.String("stackId", aws.ToString(out.StackId)))
	return aws.ToString(out.StackId), nil
}

func (b *Backend) Update(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (string, error) {
	in := &cfn.UpdateStackInput{
		StackName:    aws.String(stackName),
		Capabilities: capabilities,
		Parameters:   parameters(params),
	}
	if tpl.URL != "" {
		in.TemplateURL = aws.String(tpl.URL)
	} else {
		in.TemplateBody = aws.String(string(tpl.Body))
	}
	out, err := b.api.UpdateStack(ctx, in)
	if isNoUpdates(err) {
		return "", stack.ErrNoChanges
	}
	if err != nil {
		return "", fmt.Errorf("update stack: %w", classify(err))
	}
	b.log.Info("stack update started", zap.String("stack", stackName), zap.String("stackId", aws.ToString(out.StackId)))
	return aws.ToString(out.StackId), nil
}

func (b *Backend) Describe(ctx context.Context, op model.StackOperation) (stack.Observation, error) {
	name := op.ID
	if name == "" {
		name = op.StackName
	}
	s, err := b.describe(ctx, name)
	if err != nil {
		return stack.Observation{}, fmt.Errorf("describe stack: %w", err)
	}
	raw := string(s.StackStatus)
	return stack.Observation{Status: Classify(raw), Raw: raw, Reason: aws.ToString(s.StackStatusReason)}, nil
}

// Classify maps a CloudFormation stack status onto the stack lifecycle.
// Only creates and updates are ever monitored, so a rollback or a delete
// is a failure as soon as it starts: the deploy did not take effect.
// Creates are submitted with OnFailure=DELETE, which is how a failed
// create ends up in DELETE_COMPLETE.
func Classify(status string) model.StackStatus {
	switch {
	case strings.Contains(status, "ROLLBACK"):
		return model.StackFailed
	case strings.HasPrefix(status, "DELETE_"):
		return model.StackFailed
	case strings.HasSuffix(status, "_FAILED"):
		return model.StackFailed
	case strings.HasSuffix(status, "_IN_PROGRESS"):
		return model.StackInProgress
	case strings.HasSuffix(status, "_COMPLETE"):
		return model.StackComplete
	}
	return model.StackInProgress
}

// Events returns the failed resource events recorded since the operation
// was submitted, newest first.
func (b *Backend) Events(ctx context.Context, op model.StackOperation) ([]model.StackEvent, error) {
	name := op.ID
	if name == "" {
		name = op.StackName
	}
	var out []model.StackEvent
	p := cfn.NewDescribeStackEventsPaginator(b.api, &cfn.DescribeStackEventsInput{StackName: aws.String(name)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe stack events: %w", classify(err))
		}
		for _, e := range page.StackEvents {
			ts := aws.ToTime(e.Timestamp)
			if !op.SubmittedAt.IsZero() && ts.Before(op.SubmittedAt) {
				return out, nil
			}
			if !strings.HasSuffix(string(e.ResourceStatus), "_FAILED") {
				continue
			}
			out = append(out, model.StackEvent{
				Time:     ts,
				Resource: aws.ToString(e.LogicalResourceId),
				Status:   string(e.ResourceStatus),
				Reason:   aws.ToString(e.ResourceStatusReason),
			})
		}
	}
	return out, nil
}
