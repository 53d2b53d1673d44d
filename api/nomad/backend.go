// Package nomad runs stacks as Nomad jobs. The compiled template is a job
// in Nomad's JSON form and the stack name is the job ID.
package nomad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	nomadapi "github.com/hashicorp/nomad/api"
	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/stack"
)

// Backend implements stack.Backend on top of a Nomad cluster.
type Backend struct {
	client *Client
}

var _ stack.Backend = (*Backend)(nil)

func NewBackend(c *Client) *Backend {
	return &Backend{client: c}
}

// ParseJob decodes a job template. Both the bare job and the
// {"Job": {...}} envelope produced by `nomad job run -output` are accepted.
func ParseJob(body []byte) (*nomadapi.Job, error) {
	if len(body) == 0 {
		return nil, &model.ValidationError{Field: "template", Reason: "nomad backend needs the template body"}
	}
	var envelope struct {
		Job *nomadapi.Job
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &model.ValidationError{Field: "template", Reason: err.Error()}
	}
	if envelope.Job != nil {
		return envelope.Job, nil
	}
	var job nomadapi.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, &model.ValidationError{Field: "template", Reason: err.Error()}
	}
	return &job, nil
}

func (b *Backend) job(stackName string, tpl model.Template, params map[string]string) (*nomadapi.Job, error) {
	job, err := ParseJob(tpl.Body)
	if err != nil {
		return nil, err
	}
	job.ID = &stackName
	if job.Name == nil || *job.Name == "" {
		job.Name = &stackName
	}
	if len(params) > 0 && job.Meta == nil {
		job.Meta = map[string]string{}
	}
	for k, v := range params {
		job.Meta[k] = v
	}
	return job, nil
}

func (b *Backend) Exists(ctx context.Context, stackName string) (bool, error) {
	job, _, err := b.client.api.Jobs().Info(stackName, (&nomadapi.QueryOptions{}).WithContext(ctx))
	err = classify(err)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get job info: %w", err)
	}
	// a stopped job is re-registered like a new one
	if job.Stop != nil && *job.Stop {
		return false, nil
	}
	return true, nil
}

func (b *Backend) Create(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (string, error) {
	job, err := b.job(stackName, tpl, params)
	if err != nil {
		return "", err
	}
	return b.register(ctx, job)
}

func (b *Backend) Update(ctx context.Context, stackName string, tpl model.Template, params map[string]string) (string, error) {
	job, err := b.job(stackName, tpl, params)
	if err != nil {
		return "", err
	}
	plan, _, err := b.client.api.Jobs().Plan(job, true, (&nomadapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("plan job: %w", classify(err))
	}
	if plan.Diff != nil && plan.Diff.Type == "None" {
		return "", stack.ErrNoChanges
	}
	return b.register(ctx, job)
}

func (b *Backend) register(ctx context.Context, job *nomadapi.Job) (string, error) {
	resp, _, err := b.client.api.Jobs().Register(job, (&nomadapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("submit job: %w", classify(err))
	}
	b.client.log.Info("job registered", zap.String("job", *job.ID), zap.String("eval", resp.EvalID))
	return resp.EvalID, nil
}

// Describe follows the registration's evaluation and, once scheduled, the
// deployment it created.
func (b *Backend) Describe(ctx context.Context, op model.StackOperation) (stack.Observation, error) {
	q := (&nomadapi.QueryOptions{}).WithContext(ctx)
	eval, _, err := b.client.api.Evaluations().Info(op.ID, q)
	if err != nil {
		return stack.Observation{}, fmt.Errorf("get evaluation: %w", classify(err))
	}
	if eval.Status != "complete" || eval.DeploymentID == "" {
		return observeEval(eval), nil
	}
	dep, _, err := b.client.api.Deployments().Info(eval.DeploymentID, q)
	if err != nil {
		return stack.Observation{}, fmt.Errorf("get deployment: %w", classify(err))
	}
	return observeDeployment(dep), nil
}

func observeEval(eval *nomadapi.Evaluation) stack.Observation {
	obs := stack.Observation{Raw: "eval-" + eval.Status, Reason: eval.StatusDescription}
	switch eval.Status {
	case "pending", "blocked":
		obs.Status = model.StackInProgress
	case "failed", "canceled":
		obs.Status = model.StackFailed
	case "complete":
		if len(eval.FailedTGAllocs) > 0 {
			obs.Status = model.StackFailed
			obs.Raw = "placement-failed"
			groups := make([]string, 0, len(eval.FailedTGAllocs))
			for tg := range eval.FailedTGAllocs {
				groups = append(groups, tg)
			}
			sort.Strings(groups)
			obs.Reason = "could not place task groups: " + strings.Join(groups, ", ")
		} else {
			obs.Status = model.StackComplete
		}
	default:
		obs.Status = model.StackInProgress
	}
	return obs
}

func observeDeployment(dep *nomadapi.Deployment) stack.Observation {
	obs := stack.Observation{Raw: dep.Status, Reason: dep.StatusDescription}
	switch dep.Status {
	case "successful":
		obs.Status = model.StackComplete
	case "failed", "cancelled":
		obs.Status = model.StackFailed
	default:
		// running, pending, paused, initializing, blocked
		obs.Status = model.StackInProgress
	}
	return obs
}

// Events returns the task events that failed a task in the job's
// allocations, newest first.
func (b *Backend) Events(ctx context.Context, op model.StackOperation) ([]model.StackEvent, error) {
	allocs, _, err := b.client.api.Jobs().Allocations(op.StackName, false, (&nomadapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", classify(err))
	}
	return failedTaskEvents(allocs), nil
}

func failedTaskEvents(allocs []*nomadapi.AllocationListStub) []model.StackEvent {
	var out []model.StackEvent
	for _, a := range allocs {
		for task, ts := range a.TaskStates {
			if ts == nil {
				continue
			}
			for _, ev := range ts.Events {
				if !ev.FailsTask && !(ts.Failed && isFailureEvent(ev.Type)) {
					continue
				}
				out = append(out, model.StackEvent{
					Time:     time.Unix(0, ev.Time).UTC(),
					Resource: a.TaskGroup + "/" + task,
					Status:   ev.Type,
					Reason:   ev.DisplayMessage,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

func isFailureEvent(t string) bool {
	switch t {
	case "Driver Failure", "Task Setup Failure", "Failed Validation", "Failed Artifact Download", "Killed", "Terminated":
		return true
	}
	return false
}
