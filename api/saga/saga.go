// Package saga keeps the structured event log of deploy, rollback and
// cleanup invocations.
package saga

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is one entry in an invocation's log. Target is service/stage/region
// and Category is the invocation kind.
type Event struct {
	ID        string            `json:"id"`
	SagaID    string            `json:"sagaId"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Category  string            `json:"category"`
	Action    string            `json:"action"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Store interface {
	Append(ctx context.Context, evt *Event) error
	ListBySaga(ctx context.Context, sagaID string) ([]Event, error)
	ListByTarget(ctx context.Context, target string, limit int) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

const (
	ActionStepStart    = "step.start"
	ActionStepComplete = "step.complete"
	ActionStepFailed   = "step.failed"
)

// Saga logs the events of one invocation under a shared ID.
type Saga struct {
	ID       string
	Target   string
	Source   string
	Category string

	store Store
	clock func() time.Time
}

func New(store Store, target, source, category string) *Saga {
	return &Saga{
		ID:       uuid.NewString(),
		Target:   target,
		Source:   source,
		Category: category,
		store:    store,
		clock:    time.Now,
	}
}

func (s *Saga) Log(ctx context.Context, action, message string, metadata map[string]string) error {
	return s.store.Append(ctx, &Event{
		ID:        uuid.NewString(),
		SagaID:    s.ID,
		Timestamp: s.clock().UTC(),
		Source:    s.Source,
		Target:    s.Target,
		Category:  s.Category,
		Action:    action,
		Message:   message,
		Metadata:  metadata,
	})
}

func (s *Saga) StepStart(ctx context.Context, step string) error {
	return s.step(ctx, ActionStepStart, step, "started", nil)
}

func (s *Saga) StepComplete(ctx context.Context, step string, elapsed time.Duration) error {
	return s.step(ctx, ActionStepComplete, step, "completed", map[string]string{
		"durationMs": strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
}

func (s *Saga) StepFailed(ctx context.Context, step string, err error) error {
	return s.step(ctx, ActionStepFailed, step, "failed: "+err.Error(), map[string]string{
		"error": err.Error(),
	})
}

func (s *Saga) step(ctx context.Context, action, step, outcome string, meta map[string]string) error {
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["step"] = step
	return s.Log(ctx, action, step+" "+outcome, meta)
}
