// Package hub fans pipeline events out to websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is what subscribers receive. Type is "<kind>.<phase>" for pipeline
// progress, "stack.status" for observed stack states and "health.changed"
// for dependency health.
type Event struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	SagaID  string `json:"sagaId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	SagaID string
	Target string
}

func (f Filter) match(evt Event) bool {
	if f.SagaID != "" && evt.SagaID != f.SagaID {
		return false
	}
	return f.Target == "" || evt.Target == f.Target
}

type subscriber struct {
	conn   *websocket.Conn
	filter Filter
	send   chan []byte
}

type message struct {
	evt  Event
	data []byte
}

type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	queue    chan message
	join     chan *subscriber
	leave    chan *subscriber
	done     chan struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New builds a hub. Browser origins outside allowedOrigins are rejected
// unless they point at a loopback host.
func New(allowedOrigins []string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	h := &Hub{
		subs:  make(map[*subscriber]struct{}),
		queue: make(chan message, 256),
		join:  make(chan *subscriber),
		leave: make(chan *subscriber),
		done:  make(chan struct{}),
		log:   log,
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		return false
	}
	return h
}

// Run delivers queued events until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			h.mu.Unlock()
		case s := <-h.leave:
			h.mu.Lock()
			h.drop(s)
			h.mu.Unlock()
		case m := <-h.queue:
			h.deliver(m)
		}
	}
}

func (h *Hub) deliver(m message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.filter.match(m.evt) {
			continue
		}
		select {
		case s.send <- m.data:
		default:
			h.log.Warn("hub: subscriber too slow, disconnecting", zap.String("type", m.evt.Type))
			h.drop(s)
		}
	}
}

// drop requires h.mu.
func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.drop(s)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast queues evt for matching subscribers. It never blocks; events
// are dropped when the queue is full.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("hub: marshal event", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	select {
	case h.queue <- message{evt: evt, data: data}:
	default:
		h.log.Warn("hub: queue full, dropping event", zap.String("type", evt.Type))
	}
}

// HandleConnect upgrades the request and subscribes it. The optional saga
// and target query parameters become the subscription filter.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	q := r.URL.Query()
	s := &subscriber{
		conn:   conn,
		filter: Filter{SagaID: q.Get("saga"), Target: q.Get("target")},
		send:   make(chan []byte, 64),
	}
	select {
	case h.join <- s:
	case <-h.done:
		conn.Close()
		return
	}
	go s.write()
	go s.read(h)
}

func (s *subscriber) write() {
	defer s.conn.Close()
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// read discards inbound frames and unsubscribes once the peer goes away.
func (s *subscriber) read(h *Hub) {
	defer func() {
		select {
		case h.leave <- s:
		case <-h.done:
		}
		s.conn.Close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
