// Package core wires the routing components into one context object.
//
// A Core is constructed once and handed to whoever needs it. Every method
// must run on the owner context; engine callbacks are marshaled there
// through the Poster given at construction.
package core

import (
	"fmt"

	"go.uber.org/zap"

	"mixbridge/internal/bridging"
	"mixbridge/internal/change"
	"mixbridge/internal/domain"
	"mixbridge/internal/metrics"
	"mixbridge/internal/mute"
	"mixbridge/internal/registry"
	"mixbridge/internal/topology"
	"mixbridge/internal/transit"
)

// Poster runs fn on the owner context at some later point
type Poster interface {
	Post(fn func())
}

type inline struct{}

func (inline) Post(fn func()) { fn() }

// Core is the routing and change-propagation context
type Core struct {
	engine   bridging.Engine
	store    *bridging.Store
	tracker  *change.Tracker
	guard    *transit.Guard
	registry *registry.Registry
	router   *topology.Router
	mutes    *mute.Cache
	metrics  *metrics.Metrics
	events   *EventBus
	poster   Poster
	logger   *zap.Logger
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	poster  Poster
}

// Option configures a Core
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPoster sets how engine callbacks reach the owner context. Without it
// callbacks run inline on whatever goroutine the engine uses.
func WithPoster(p Poster) Option {
	return func(o *options) {
		if p != nil {
			o.poster = p
		}
	}
}

// New builds a Core around engine, loading the topology from the engine's
// current document
func New(engine bridging.Engine, opts ...Option) (*Core, error) {
	o := options{logger: zap.NewNop(), poster: inline{}}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		engine:  engine,
		store:   bridging.NewStore(engine, o.logger.Named("bridging")),
		tracker: change.New(),
		guard:   transit.New(),
		metrics: o.metrics,
		events:  NewEventBus(),
		poster:  o.poster,
		logger:  o.logger,
	}
	c.registry = registry.New(c.tracker,
		registry.WithBounds(c.bounds),
		registry.WithLogger(o.logger.Named("registry")))

	router, err := topology.NewRouter(c.store, c.registry, c.guard, c.tracker,
		topology.WithLogger(o.logger.Named("topology")),
		topology.WithMetrics(o.metrics))
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	c.router = router
	c.mutes = mute.New(c.store, c.registry, c.tracker, o.logger.Named("mute"))

	c.store.OnLiveness(func(protocol domain.ProtocolID, state domain.LivenessState) {
		c.poster.Post(func() { c.handleLiveness(protocol, state) })
	})
	c.store.OnMessage(func(protocol domain.ProtocolID, msg domain.Message) {
		c.poster.Post(func() {
			if err := c.HandleInbound(protocol, msg); err != nil {
				c.logger.Debug("inbound dropped",
					zap.String("protocol", string(protocol)),
					zap.Int("address", msg.Address),
					zap.Error(err))
			}
		})
	})
	return c, nil
}

func (c *Core) bounds(kind domain.ProcessorKind) (int, int) {
	if c.router == nil {
		return registry.DefaultBounds(kind)
	}
	return c.router.Bounds(kind)
}

// Start starts the engine
func (c *Core) Start() error {
	if err := c.engine.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	return nil
}

// Stop stops the engine
func (c *Core) Stop() error {
	if err := c.engine.Stop(); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

// Events returns the runtime listener bus
func (c *Core) Events() *EventBus {
	return c.events
}

// Tick is the fixed-period heartbeat; it settles every write in transit
func (c *Core) Tick() {
	c.guard.Tick()
}

// InTransit reports whether any of kinds has a local write in flight
func (c *Core) InTransit(kinds domain.ChangeKind) bool {
	return c.guard.InTransit(kinds)
}

// MarkChanged records that source changed kinds
func (c *Core) MarkChanged(source domain.Observer, kinds domain.ChangeKind) {
	c.tracker.MarkChanged(source, kinds)
}

// Peek reports whether target has unseen changes of kinds
func (c *Core) Peek(target domain.Observer, kinds domain.ChangeKind) bool {
	return c.tracker.Peek(target, kinds)
}

// Pop reports and clears target's unseen changes of kinds
func (c *Core) Pop(target domain.Observer, kinds domain.ChangeKind) bool {
	return c.tracker.Pop(target, kinds)
}

// LastWriter returns which observer last changed kind
func (c *Core) LastWriter(kind domain.ChangeKind) domain.Observer {
	return c.tracker.LastWriter(kind)
}

// Topology returns the current routing configuration
func (c *Core) Topology() domain.TopologyConfig {
	return c.router.Config()
}

// SetTopologyMode switches the topology mode
func (c *Core) SetTopologyMode(mode domain.TopologyMode) error {
	prev := c.router.Mode()
	if err := c.router.SetMode(mode); err != nil {
		return err
	}
	if prev != mode {
		c.events.Publish(Event{Type: EventTopologyChanged, Payload: map[string]string{"from": string(prev), "to": string(mode)}})
	}
	return nil
}

// SetActiveParallel selects the endpoint that leads in Parallel mode
func (c *Core) SetActiveParallel(source domain.Observer, endpoint domain.EndpointID) error {
	if err := c.router.SetActiveParallel(source, endpoint); err != nil {
		return err
	}
	c.events.Publish(Event{Type: EventTopologyChanged, Payload: map[string]string{"active_parallel": string(endpoint)}})
	return nil
}

// SetEndpoint replaces an endpoint descriptor
func (c *Core) SetEndpoint(source domain.Observer, ep domain.Endpoint) error {
	if err := c.router.SetEndpoint(source, ep); err != nil {
		return err
	}
	c.events.Publish(Event{Type: EventEndpointChanged, Payload: ep})
	return nil
}

// RemoveSecondary drops the secondary endpoint
func (c *Core) RemoveSecondary(source domain.Observer) error {
	if err := c.router.RemoveSecondary(source); err != nil {
		return err
	}
	c.events.Publish(Event{Type: EventEndpointChanged, Payload: map[string]string{"removed": string(domain.EndpointSecondary)}})
	return nil
}

// Online is the connection state of the whole topology
func (c *Core) Online() bool {
	return c.router.Online()
}

// IsConnected reports whether endpoint's session is up
func (c *Core) IsConnected(endpoint domain.EndpointID) bool {
	return c.router.IsConnected(endpoint)
}

// GetMaster returns the endpoint the engine reports as master
func (c *Core) GetMaster() (domain.EndpointID, bool) {
	return c.router.GetMaster()
}

// Subscriptions returns the per-endpoint subscription partition
func (c *Core) Subscriptions() (topology.Subscriptions, error) {
	return c.router.Subscriptions()
}

// SetMuted mutes or unmutes entities for a bridging protocol
func (c *Core) SetMuted(source domain.Observer, protocol domain.ProtocolID, ids []domain.ProcessorID, muted bool) (bool, error) {
	changed, err := c.mutes.SetMuted(source, protocol, ids, muted)
	c.metrics.ObserveMute(protocol, err == nil)
	if err != nil {
		return false, err
	}
	if changed {
		c.events.Publish(Event{Type: EventMuteChanged, Payload: map[string]any{"protocol": protocol, "muted": muted, "ids": ids}})
	}
	return changed, nil
}

// IsMuted reports whether the entity is muted for protocol
func (c *Core) IsMuted(protocol domain.ProtocolID, id domain.ProcessorID) (bool, error) {
	return c.mutes.IsMuted(protocol, id)
}

// Muted returns the muted addresses of kind for protocol
func (c *Core) Muted(protocol domain.ProtocolID, kind domain.ProcessorKind) ([]int, error) {
	return c.mutes.Muted(protocol, kind)
}

func (c *Core) handleLiveness(protocol domain.ProtocolID, state domain.LivenessState) {
	if !c.store.RecordLiveness(protocol, state) {
		return
	}
	c.tracker.MarkChanged(domain.ObserverProtocol, domain.ChangeLiveness)
	c.metrics.SetLiveness(protocol, state)
	c.logger.Info("protocol liveness",
		zap.String("protocol", string(protocol)),
		zap.String("state", string(state)))
	c.events.Publish(Event{Type: EventLiveness, Payload: map[string]string{"protocol": string(protocol), "state": string(state)}})
}
