// Package health probes the services skald depends on.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skald/api/hub"
)

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Status struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Details    string    `json:"details,omitempty"`
	ResponseMs int64     `json:"responseMs"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// RunChecks runs every check concurrently and returns the results in the
// order of checks.
func RunChecks(ctx context.Context, checks []Check) []Status {
	out := make([]Status, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			s := Status{Name: c.Name, Status: StatusUp}
			if err := c.Fn(ctx); err != nil {
				s.Status = StatusDown
				s.Details = err.Error()
			}
			s.ResponseMs = time.Since(start).Milliseconds()
			s.CheckedAt = time.Now()
			out[i] = s
			return nil
		})
	}
	g.Wait()
	return out
}

// Overall is "healthy" when every status is up and "degraded" otherwise.
func Overall(statuses []Status) string {
	for _, s := range statuses {
		if s.Status != StatusUp {
			return "degraded"
		}
	}
	return "healthy"
}

type Broadcaster interface {
	Broadcast(evt hub.Event)
}

// Poller runs the checks periodically and announces every transition.
type Poller struct {
	Checks   []Check
	WS       Broadcaster
	Interval time.Duration
	Timeout  time.Duration
	Log      *zap.Logger

	mu   sync.Mutex
	last map[string]string
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.Interval == 0 {
		p.Interval = 30 * time.Second
	}
	if p.Timeout == 0 {
		p.Timeout = 5 * time.Second
	}
	if p.Log == nil {
		p.Log = zap.NewNop()
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs the checks once and returns the statuses that changed since the
// previous poll. The first poll reports every check.
func (p *Poller) Poll(ctx context.Context) []Status {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	statuses := RunChecks(cctx, p.Checks)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = map[string]string{}
	}
	var changed []Status
	for _, s := range statuses {
		if p.last[s.Name] == s.Status {
			continue
		}
		p.last[s.Name] = s.Status
		changed = append(changed, s)
		if p.Log != nil {
			if s.Status == StatusDown {
				p.Log.Warn("dependency down", zap.String("check", s.Name), zap.String("details", s.Details))
			} else {
				p.Log.Info("dependency up", zap.String("check", s.Name), zap.Int64("responseMs", s.ResponseMs))
			}
		}
		if p.WS != nil {
			p.WS.Broadcast(hub.Event{Type: "health.changed", Target: s.Name, Payload: s})
		}
	}
	return changed
}
