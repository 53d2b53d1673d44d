package store

import (
	"context"
	"fmt"
	"sync"

	"skald/api/model"
)

// Memory is a Recorder kept in process, newest last.
type Memory struct {
	mu          sync.RWMutex
	invocations []*model.Invocation
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertInvocation(ctx context.Context, inv *model.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invocations = append(m.invocations, &cp)
	return nil
}

func (m *Memory) FinishInvocation(ctx context.Context, inv *model.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.invocations {
		if existing.ID == inv.ID {
			cp := *inv
			m.invocations[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("invocation %s: %w", inv.ID, model.ErrNotFound)
}

func (m *Memory) ListInvocations(ctx context.Context, f InvocationFilter) ([]model.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Invocation
	for i := len(m.invocations) - 1; i >= 0 && len(out) < f.limit(); i-- {
		if f.match(m.invocations[i]) {
			out = append(out, *m.invocations[i])
		}
	}
	return out, nil
}
