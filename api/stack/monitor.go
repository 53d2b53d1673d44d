package stack

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/retry"
)

// Phase is the monitor's view of an operation.
type Phase string

const (
	PhaseSubmitted Phase = "SUBMITTED"
	PhasePolling   Phase = "POLLING"
	PhaseSucceeded Phase = "SUCCEEDED"
	PhaseFailed    Phase = "FAILED"
	PhaseNoChanges Phase = "NO_CHANGES"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 30 * time.Minute
)

// Outcome is what the monitor observed when it stopped.
type Outcome struct {
	Phase   Phase              `json:"phase"`
	Result  model.Outcome      `json:"result"`
	Status  string             `json:"status,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Events  []model.StackEvent `json:"events,omitempty"`
	Polls   int                `json:"polls"`
	Elapsed time.Duration      `json:"elapsed"`
}

// Monitor polls a stack operation until it reaches a terminal state. It
// only observes: cancelling the context stops polling but leaves the
// remote operation running.
type Monitor struct {
	Backend  Backend
	Interval time.Duration
	Timeout  time.Duration
	// Retry bounds consecutive transient failures of a single poll.
	Retry retry.Policy
	// OnStatus is called whenever the remote status changes.
	OnStatus func(op model.StackOperation, obs Observation)
	Log      *zap.Logger
	now      func() time.Time
}

func NewMonitor(b Backend, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		Backend:  b,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		Retry:    retry.Default,
		Log:      log,
		now:      time.Now,
	}
}

func (m *Monitor) elapsed(op model.StackOperation, start time.Time) time.Duration {
	if !op.SubmittedAt.IsZero() {
		start = op.SubmittedAt
	}
	return m.now().Sub(start).Round(time.Millisecond)
}

// Await blocks until op settles, the timeout passes or ctx is cancelled.
// A remote failure returns *model.OperationFailure; giving up for any other
// reason returns *model.MonitorError.
func (m *Monitor) Await(ctx context.Context, op model.StackOperation) (Outcome, error) {
	start := m.now()
	log := m.Log.With(zap.String("stack", op.StackName), zap.String("operation", string(op.Kind)))
	out := Outcome{Phase: PhaseSubmitted}

	if op.Status == model.StackNoChanges {
		out.Phase = PhaseNoChanges
		out.Result = model.OutcomeSkipped
		out.Status = string(model.StackNoChanges)
		out.Elapsed = m.elapsed(op, start)
		log.Info("no changes to stack")
		return out, nil
	}

	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	out.Phase = PhasePolling
	var last string
	for {
		select {
		case <-ctx.Done():
			out.Elapsed = m.elapsed(op, start)
			return out, &model.MonitorError{Stack: op.StackName, Err: ctx.Err()}
		case <-timer.C:
		}

		var obs Observation
		err := retry.DoNotify(ctx, m.Retry, func() error {
			var err error
			obs, err = m.Backend.Describe(ctx, op)
			return err
		}, func(err error, wait time.Duration) {
			log.Warn("stack poll failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		})
		if err != nil {
			out.Elapsed = m.elapsed(op, start)
			return out, &model.MonitorError{Stack: op.StackName, Err: err}
		}
		out.Polls++
		out.Status = obs.Raw
		out.Reason = obs.Reason

		if obs.Raw != last {
			last = obs.Raw
			log.Info("stack status", zap.String("status", obs.Raw), zap.String("reason", obs.Reason))
			if m.OnStatus != nil {
				m.OnStatus(op, obs)
			}
		}

		switch obs.Status {
		case model.StackComplete:
			out.Phase = PhaseSucceeded
			out.Result = model.OutcomeSucceeded
			out.Elapsed = m.elapsed(op, start)
			return out, nil
		case model.StackNoChanges:
			out.Phase = PhaseNoChanges
			out.Result = model.OutcomeSkipped
			out.Elapsed = m.elapsed(op, start)
			return out, nil
		case model.StackFailed:
			out.Phase = PhaseFailed
			out.Result = model.OutcomeFailed
			out.Events = m.failureEvents(ctx, op, log)
			out.Elapsed = m.elapsed(op, start)
			return out, &model.OperationFailure{
				Stack:  op.StackName,
				Status: obs.Raw,
				Reason: obs.Reason,
				Events: out.Events,
			}
		}
		timer.Reset(interval)
	}
}

func (m *Monitor) failureEvents(ctx context.Context, op model.StackOperation, log *zap.Logger) []model.StackEvent {
	var events []model.StackEvent
	err := retry.Do(ctx, m.Retry, func() error {
		var err error
		events, err = m.Backend.Events(ctx, op)
		return err
	})
	if err != nil {
		log.Warn("could not fetch stack events", zap.Error(err))
		return nil
	}
	for _, e := range events {
		log.Error("stack resource failed",
			zap.String("resource", e.Resource), zap.String("status", e.Status), zap.String("reason", e.Reason))
	}
	return events
}
