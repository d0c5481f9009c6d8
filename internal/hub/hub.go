// Package hub runs the owner loop of the routing core.
//
// Everything that touches core state runs on the goroutine inside Run:
// queued tasks, the fixed-period tick and the SSE client bookkeeping.
// Engine callbacks enqueue with Post; other goroutines use Do to run a
// function on the loop and wait for it.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTickInterval is the period of the tick driver
const DefaultTickInterval = 100 * time.Millisecond

// ErrStopped is returned by Do once the loop has exited
var ErrStopped = errors.New("hub stopped")

// Ticker is driven by the loop at a fixed period
type Ticker interface {
	Tick()
}

// Hub owns the task queue and the event stream clients
type Hub struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}

	tasks    chan func()
	interval time.Duration
	logger   *zap.Logger

	clients    map[*Client]struct{}
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan any
}

// Option configures a Hub
type Option func(*Hub)

// WithInterval sets the tick period
func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithQueueSize sets how many tasks may wait before Post starts dropping
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.tasks = make(chan func(), n)
		}
	}
}

// New creates a new Hub
func New(opts ...Option) *Hub {
	h := &Hub{
		done:       make(chan struct{}),
		tasks:      make(chan func(), 256),
		interval:   DefaultTickInterval,
		logger:     zap.NewNop(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan any, 256),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Post queues fn for the loop and never blocks. fn is dropped with a
// warning when the queue is full, and silently once the loop has exited.
func (h *Hub) Post(fn func()) {
	select {
	case <-h.done:
		h.logger.Debug("task dropped, hub stopped")
		return
	default:
	}
	select {
	case h.tasks <- fn:
	default:
		h.logger.Warn("task dropped, queue full", zap.Int("capacity", cap(h.tasks)))
	}
}

// Do runs fn on the loop and waits for it to return
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.tasks <- task:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		// the loop may have run it just before exiting
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the hub's loop and blocks until ctx is cancelled. t is ticked
// every interval.
func (h *Hub) Run(ctx context.Context, t Ticker) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("hub already running")
	}
	h.running = true
	h.mu.Unlock()
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("hub started", zap.Duration("tick", h.interval))
	for {
		select {
		case <-ctx.Done():
			h.closeClients()
			h.logger.Info("hub stopped")
			return ctx.Err()

		case task := <-h.tasks:
			task()

		case <-ticker.C:
			if t != nil {
				t.Tick()
			}

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Done is closed when the loop has exited
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
