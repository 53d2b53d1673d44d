package saga

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps events in process. It backs the server when no
// database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
	return nil
}

func (m *MemoryStore) ListBySaga(ctx context.Context, sagaID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) ListByTarget(ctx context.Context, target string, limit int) ([]Event, error) {
	return m.recent(limit, func(e Event) bool { return e.Target == target }), nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return m.recent(limit, func(Event) bool { return true }), nil
}

func (m *MemoryStore) recent(limit int, keep func(Event) bool) []Event {
	limit = pageSize(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}
