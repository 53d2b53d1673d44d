package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/hub"
)

type recordingHub struct {
	mu     sync.Mutex
	events []hub.Event
}

func (h *recordingHub) Broadcast(evt hub.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func TestRunChecksKeepsOrder(t *testing.T) {
	statuses := RunChecks(context.Background(), []Check{
		{Name: "storage", Fn: func(context.Context) error { return nil }},
		{Name: "nomad", Fn: func(context.Context) error { return errors.New("connection refused") }},
	})
	require.Len(t, statuses, 2)
	assert.Equal(t, "storage", statuses[0].Name)
	assert.Equal(t, StatusUp, statuses[0].Status)
	assert.Equal(t, StatusDown, statuses[1].Status)
	assert.Equal(t, "connection refused", statuses[1].Details)
	assert.Equal(t, "degraded", Overall(statuses))
	assert.Equal(t, "healthy", Overall(statuses[:1]))
}

func TestPollReportsTransitions(t *testing.T) {
	var down bool
	ws := &recordingHub{}
	p := &Poller{
		Checks: []Check{{Name: "consul", Fn: func(context.Context) error {
			if down {
				return errors.New("no leader")
			}
			return nil
		}}},
		WS: ws,
	}

	assert.Len(t, p.Poll(context.Background()), 1)
	assert.Empty(t, p.Poll(context.Background()))

	down = true
	changed := p.Poll(context.Background())
	require.Len(t, changed, 1)
	assert.Equal(t, StatusDown, changed[0].Status)

	require.Len(t, ws.events, 2)
	assert.Equal(t, "health.changed", ws.events[1].Type)
	assert.Equal(t, "consul", ws.events[1].Target)
}
