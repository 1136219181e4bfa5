// Package broadcast fans interaction events out to connected clients without
// ever blocking the state-owning path.
package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chadiek/improv/internal/domain"
)

// HighWater is the queue depth at which the hub starts warning about a slow consumer.
const HighWater = 256

// Client is a registered connection. Send is only ever called from the hub's
// consumer goroutine.
type Client interface {
	Send(e domain.Event) error
	Close() error
}

// Sink receives every published event. Sink failures are logged and the sink
// stays registered.
type Sink interface {
	Deliver(ctx context.Context, e domain.Event) error
}

// Gauges receives queue and membership sizes.
type Gauges interface {
	SetBroadcastQueueDepth(n int)
	SetBroadcastClients(n int)
}

type opKind int

const (
	opEvent opKind = iota
	opJoin
	opLeave
)

type op struct {
	kind     opKind
	event    domain.Event
	client   Client
	snapshot []domain.Event
}

// Hub owns the client set and an unbounded handoff queue drained by Run.
type Hub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []op
	closed  bool
	warned  bool
	clients map[Client]struct{}

	sinks  []Sink
	gauges Gauges
	logger *zap.Logger
}

// NewHub creates a hub. Start the consumer with Run.
func NewHub(logger *zap.Logger, gauges Gauges, sinks ...Sink) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients: make(map[Client]struct{}),
		sinks:   sinks,
		gauges:  gauges,
		logger:  logger.With(zap.String("component", "broadcast")),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish queues e for every client and sink and returns immediately.
func (h *Hub) Publish(e domain.Event) {
	h.enqueue(op{kind: opEvent, event: e})
}

// Register queues c for membership. c receives snapshot before any event
// published after this call.
func (h *Hub) Register(c Client, snapshot ...domain.Event) {
	h.enqueue(op{kind: opJoin, client: c, snapshot: snapshot})
}

// Unregister queues removal of c. The hub closes c once removed.
func (h *Hub) Unregister(c Client) {
	h.enqueue(op{kind: opLeave, client: c})
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops accepting work. Run drains what is queued and returns.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cond.Broadcast()
}

// enqueue runs under the interaction lock, so logging and client I/O happen
// after h.mu is released.
func (h *Hub) enqueue(o op) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if o.kind == opJoin {
			go func() { _ = o.client.Close() }()
		}
		h.logger.Debug("hub closed, dropping op")
		return
	}
	h.queue = append(h.queue, o)
	depth := len(h.queue)
	warn := depth >= HighWater && !h.warned
	if warn {
		h.warned = true
	}
	h.mu.Unlock()
	h.cond.Signal()

	if warn {
		h.logger.Warn("broadcast queue above high-water mark", zap.Int("depth", depth))
	}
	if h.gauges != nil {
		h.gauges.SetBroadcastQueueDepth(depth)
	}
}

// next blocks until an op is available. ok is false once the hub is closed
// and drained.
func (h *Hub) next() (op, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for len(h.queue) == 0 && !h.closed {
		h.cond.Wait()
	}
	if len(h.queue) == 0 {
		return op{}, false
	}
	o := h.queue[0]
	h.queue[0] = op{}
	h.queue = h.queue[1:]
	if len(h.queue) < HighWater/2 {
		h.warned = false
	}
	if h.gauges != nil {
		h.gauges.SetBroadcastQueueDepth(len(h.queue))
	}
	return o, true
}

// Run is the single consumer. It returns when the hub is closed and drained,
// or when ctx is cancelled. Remaining clients are closed on return.
func (h *Hub) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, h.Close)
	defer stop()
	defer h.closeAll()

	for {
		o, ok := h.next()
		if !ok {
			return
		}
		switch o.kind {
		case opJoin:
			h.join(o.client, o.snapshot)
		case opLeave:
			h.drop(o.client)
		case opEvent:
			h.fanOut(ctx, o.event)
		}
	}
}

func (h *Hub) join(c Client, snapshot []domain.Event) {
	for _, e := range snapshot {
		if err := c.Send(e); err != nil {
			h.logger.Info("client failed snapshot", zap.Error(err))
			_ = c.Close()
			return
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.setClients(n)
	h.logger.Debug("client registered", zap.Int("clients", n))
}

func (h *Hub) drop(c Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Close()
	h.setClients(n)
	h.logger.Debug("client unregistered", zap.Int("clients", n))
}

func (h *Hub) fanOut(ctx context.Context, e domain.Event) {
	h.mu.Lock()
	targets := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(e); err != nil {
			h.logger.Info("send failed, unregistering client", zap.Error(err))
			h.drop(c)
		}
	}
	for _, s := range h.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			h.logger.Warn("sink delivery failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[Client]struct{})
	h.mu.Unlock()
	for c := range clients {
		_ = c.Close()
	}
	h.setClients(0)
}

func (h *Hub) setClients(n int) {
	if h.gauges != nil {
		h.gauges.SetBroadcastClients(n)
	}
}
