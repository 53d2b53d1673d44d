// Package pipeline drives deploy, rollback and cleanup invocations: each
// runs as an ordered list of steps, logged to the saga event log,
// broadcast to websocket subscribers and recorded in the invocation history.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skald/api/artifact"
	"skald/api/consul"
	"skald/api/deployments"
	"skald/api/hub"
	"skald/api/model"
	"skald/api/naming"
	"skald/api/retry"
	"skald/api/saga"
	"skald/api/stack"
	"skald/api/storage"
	"skald/api/store"
)

// Broadcaster receives pipeline events for live subscribers.
type Broadcaster interface {
	Broadcast(evt hub.Event)
}

// Releases records which deployment a target currently runs.
type Releases interface {
	SetCurrent(ctx context.Context, t model.Target, r consul.Release) error
}

type Pipeline struct {
	Open      storage.Opener
	Backend   stack.Backend
	SagaStore saga.Store

	Recorder store.Recorder // optional
	Releases Releases       // optional
	WS       Broadcaster    // optional

	UploadConcurrency int
	PollInterval      time.Duration
	StackTimeout      time.Duration
	Retry             retry.Policy

	Log *zap.Logger
	now func() time.Time
}

func New(open storage.Opener, backend stack.Backend, sagas saga.Store, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Open:              open,
		Backend:           backend,
		SagaStore:         sagas,
		UploadConcurrency: artifact.DefaultConcurrency,
		PollInterval:      stack.DefaultInterval,
		StackTimeout:      stack.DefaultTimeout,
		Retry:             retry.Default,
		Log:               log,
		now:               time.Now,
	}
}

// Invocation is the state of one deploy, rollback or cleanup. It is never
// shared between invocations, so concurrent runs against the same target
// cannot see each other's deployment pointer.
type Invocation struct {
	Kind   model.InvocationKind
	Target model.Target
	SagaID string

	// Prefix and TemplateDirectory point at the deployment being written
	// (deploy) or restored (rollback).
	Prefix            string
	TemplateDirectory string
	Parameters        map[string]string

	store    storage.ObjectStore
	saga     *saga.Saga
	record   *model.Invocation
	log      *zap.Logger
	started  time.Time
	template model.Template
	op       *model.StackOperation
	outcome  stack.Outcome
	report   *artifact.Report
	cleanup  *deployments.CleanupReport
}

// Timestamp is the user-facing timestamp of the deployment the invocation
// points at, empty until one is chosen.
func (inv *Invocation) Timestamp() string {
	ts, _ := naming.TimestampOf(inv.TemplateDirectory)
	return ts
}

func targetKey(t model.Target) string {
	return t.Service + "/" + t.Stage + "/" + t.Region
}

// Begin validates target and opens the saga and history record of a new
// invocation. Nothing remote is touched yet.
func (p *Pipeline) Begin(ctx context.Context, kind model.InvocationKind, target model.Target) (*Invocation, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	objects, err := p.Open(target.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", target.Bucket, err)
	}

	sg := saga.New(p.SagaStore, targetKey(target), "pipeline", string(kind))
	inv := &Invocation{
		Kind:    kind,
		Target:  target,
		SagaID:  sg.ID,
		Prefix:  target.DeploymentPrefix(),
		store:   objects,
		saga:    sg,
		started: p.now(),
		log: p.Log.With(zap.String("saga", sg.ID), zap.String("kind", string(kind)),
			zap.String("service", target.Service), zap.String("stage", target.Stage)),
	}
	inv.record = &model.Invocation{
		ID:        uuid.New().String(),
		SagaID:    sg.ID,
		Kind:      kind,
		Service:   target.Service,
		Stage:     target.Stage,
		Region:    target.Region,
		Status:    model.StatusRunning,
		Steps:     []model.StepLog{},
		StartedAt: inv.started,
	}
	if p.Recorder != nil {
		if err := p.Recorder.InsertInvocation(ctx, inv.record); err != nil {
			inv.log.Warn("record invocation", zap.Error(err))
		}
	}
	p.event(ctx, inv, string(kind)+".start", fmt.Sprintf("%s %s (stage: %s, region: %s)", kind, target.Service, target.Stage, target.Region), nil)
	return inv, nil
}

type step struct {
	name string
	fn   func(ctx context.Context, inv *Invocation) error
}

// run executes steps in order and stops at the first failure.
func (p *Pipeline) run(ctx context.Context, inv *Invocation, steps []step) error {
	for _, s := range steps {
		inv.saga.StepStart(ctx, s.name)
		p.broadcast(inv, string(inv.Kind)+".step", map[string]string{"step": s.name, "status": "running"})

		start := p.now()
		err := s.fn(ctx, inv)
		elapsed := p.now().Sub(start)

		if err != nil {
			inv.saga.StepFailed(ctx, s.name, err)
			inv.record.Steps = append(inv.record.Steps, model.StepLog{
				Step: s.name, Status: "failed", DurationMs: elapsed.Milliseconds(), Message: err.Error(),
			})
			p.broadcast(inv, string(inv.Kind)+".step", map[string]string{"step": s.name, "status": "failed"})
			inv.log.Error("step failed", zap.String("step", s.name), zap.Error(err))
			return err
		}

		inv.saga.StepComplete(ctx, s.name, elapsed)
		inv.record.Steps = append(inv.record.Steps, model.StepLog{
			Step: s.name, Status: "complete", DurationMs: elapsed.Milliseconds(),
		})
		p.broadcast(inv, string(inv.Kind)+".step", map[string]string{"step": s.name, "status": "complete"})
		inv.log.Debug("step complete", zap.String("step", s.name), zap.Duration("elapsed", elapsed))
	}
	return nil
}

// finish closes the history record and announces the final status.
func (p *Pipeline) finish(ctx context.Context, inv *Invocation, status model.InvocationStatus, err error) {
	now := p.now()
	inv.record.Status = status
	inv.record.Timestamp = inv.Timestamp()
	inv.record.FinishedAt = &now
	if err != nil {
		inv.record.Error = err.Error()
	}
	if p.Recorder != nil {
		if rerr := p.Recorder.FinishInvocation(ctx, inv.record); rerr != nil {
			inv.log.Warn("record invocation", zap.Error(rerr))
		}
	}

	kind := string(inv.Kind)
	payload := map[string]string{"status": string(status), "timestamp": inv.record.Timestamp}
	switch status {
	case model.StatusFailed:
		payload["error"] = err.Error()
		p.event(ctx, inv, kind+".failed", fmt.Sprintf("%s failed: %v", kind, err), payload)
	case model.StatusSkipped:
		p.event(ctx, inv, kind+".skipped", fmt.Sprintf("%s skipped: stack already up to date", kind), payload)
	default:
		p.event(ctx, inv, kind+".complete", fmt.Sprintf("%s complete (%s)", kind, now.Sub(inv.started).Round(time.Millisecond)), payload)
	}

	if (status == model.StatusSucceeded || status == model.StatusRolledBack || status == model.StatusSkipped) &&
		inv.Kind != model.KindCleanup && p.Releases != nil {
		rel := consul.Release{Timestamp: inv.record.Timestamp, Prefix: inv.Prefix, Kind: kind, SagaID: inv.SagaID, UpdatedAt: now}
		if rerr := p.Releases.SetCurrent(ctx, inv.Target, rel); rerr != nil {
			inv.log.Warn("record current release", zap.Error(rerr))
		}
	}
}

// event logs to the saga and broadcasts the same action.
func (p *Pipeline) event(ctx context.Context, inv *Invocation, action, message string, meta map[string]string) {
	if err := inv.saga.Log(ctx, action, message, meta); err != nil {
		inv.log.Warn("saga log", zap.String("action", action), zap.Error(err))
	}
	payload := map[string]string{"message": message}
	for k, v := range meta {
		payload[k] = v
	}
	p.broadcast(inv, action, payload)
}

func (p *Pipeline) broadcast(inv *Invocation, typ string, payload map[string]string) {
	if p.WS == nil {
		return
	}
	p.WS.Broadcast(hub.Event{Type: typ, Target: targetKey(inv.Target), SagaID: inv.SagaID, Payload: payload})
}

func (p *Pipeline) monitor(inv *Invocation) *stack.Monitor {
	m := stack.NewMonitor(p.Backend, inv.log)
	m.Interval = p.PollInterval
	m.Timeout = p.StackTimeout
	m.Retry = p.Retry
	m.OnStatus = func(op model.StackOperation, obs stack.Observation) {
		inv.saga.Log(context.Background(), "stack.status", fmt.Sprintf("%s: %s", op.StackName, obs.Raw),
			map[string]string{"status": obs.Raw, "reason": obs.Reason})
		p.broadcast(inv, "stack.status", map[string]string{"stack": op.StackName, "status": obs.Raw, "reason": obs.Reason})
	}
	return m
}

func (p *Pipeline) updater(inv *Invocation) *stack.Updater {
	u := stack.NewUpdater(p.Backend, inv.log)
	u.Retry = p.Retry
	return u
}

// submit hands the invocation's template to the orchestration service.
func (p *Pipeline) submit(ctx context.Context, inv *Invocation) error {
	op, err := p.updater(inv).Submit(ctx, inv.Target.StackName(), inv.template, inv.Parameters)
	if err != nil {
		return err
	}
	inv.op = op
	if op.Status == model.StackNoChanges {
		inv.saga.Log(ctx, "stack.nochanges", "no changes to deploy", map[string]string{"stack": op.StackName})
	}
	return nil
}

// await blocks until the submitted operation settles.
func (p *Pipeline) await(ctx context.Context, inv *Invocation) error {
	out, err := p.monitor(inv).Await(ctx, *inv.op)
	inv.outcome = out
	return err
}

// List returns the stored deployments of target, oldest first.
func (p *Pipeline) List(ctx context.Context, target model.Target) ([]model.Deployment, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	objects, err := p.Open(target.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", target.Bucket, err)
	}
	return deployments.NewLister(objects, p.Log).Find(ctx, target)
}
