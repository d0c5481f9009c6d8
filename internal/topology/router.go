package topology

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mixbridge/internal/bridging"
	"mixbridge/internal/change"
	"mixbridge/internal/domain"
	"mixbridge/internal/metrics"
	"mixbridge/internal/transit"
)

// ConfigStore is the part of the bridging store the router needs
type ConfigStore interface {
	Load() (bridging.Config, error)
	Mutate(fn func(*bridging.Config) error) error
	Send(protocol domain.ProtocolID, msg domain.Message) error
	Liveness(protocol domain.ProtocolID) domain.LivenessState
}

// EntitySource yields the active entity set for subscription aggregation
type EntitySource interface {
	Active() []domain.Entity
}

// SendReport is the per-endpoint outcome of one routed write
type SendReport struct {
	Targets   []domain.Target
	Delivered map[domain.EndpointID]bool
}

// Complete reports whether every target accepted the write
func (r SendReport) Complete() bool {
	if len(r.Targets) == 0 {
		return false
	}
	for _, t := range r.Targets {
		if !r.Delivered[t.Endpoint] {
			return false
		}
	}
	return true
}

// Partial reports whether some but not all targets accepted the write
func (r SendReport) Partial() bool {
	n := 0
	for _, t := range r.Targets {
		if r.Delivered[t.Endpoint] {
			n++
		}
	}
	return n > 0 && n < len(r.Targets)
}

// Router applies the topology to outgoing writes and keeps the endpoint
// subscriptions in step with the active entity set. Owner context only.
type Router struct {
	store    ConfigStore
	entities EntitySource
	guard    *transit.Guard
	tracker  *change.Tracker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      domain.TopologyConfig
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a router and loads the topology from the store
func NewRouter(store ConfigStore, entities EntitySource, guard *transit.Guard, tracker *change.Tracker, opts ...Option) (*Router, error) {
	r := &Router{
		store:    store,
		entities: entities,
		guard:    guard,
		tracker:  tracker,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the topology from the store
func (r *Router) Reload() error {
	cfg, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}
	r.cfg = cfg.TopologyConfig()
	return nil
}

// Config returns the current topology
func (r *Router) Config() domain.TopologyConfig {
	cfg := r.cfg
	if cfg.Secondary != nil {
		sec := *cfg.Secondary
		cfg.Secondary = &sec
	}
	return cfg
}

// Mode returns the current topology mode
func (r *Router) Mode() domain.TopologyMode {
	return r.cfg.Mode
}

// Bounds is the registry's address range under the current topology
func (r *Router) Bounds(domain.ProcessorKind) (int, int) {
	return 1, Limit(r.cfg)
}

// Resolve routes addr under the current topology
func (r *Router) Resolve(addr int) ([]domain.Target, error) {
	return Resolve(r.cfg, addr)
}

// ResolveInbound maps an endpoint-native address back under the current topology
func (r *Router) ResolveInbound(endpoint domain.EndpointID, addr int) (int, error) {
	return ResolveInbound(r.cfg, endpoint, addr)
}

// Send hands msg to every target endpoint. The overall result is the logical
// AND of the per-endpoint results; an endpoint that accepted the write is
// not rolled back when the other one refused it.
func (r *Router) Send(msg domain.Message) (SendReport, error) {
	targets, err := Resolve(r.cfg, msg.Address)
	if err != nil {
		return SendReport{}, err
	}

	report := SendReport{
		Targets:   targets,
		Delivered: make(map[domain.EndpointID]bool, len(targets)),
	}
	var errs []error
	for _, t := range targets {
		ep, _ := r.cfg.Endpoint(t.Endpoint)
		err := r.store.Send(ep.Protocol, msg.WithAddress(t.Address))
		report.Delivered[t.Endpoint] = err == nil
		r.metrics.ObserveSend(t.Endpoint, err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Endpoint, err))
		}
	}
	if len(errs) > 0 {
		r.logger.Warn("send not delivered everywhere",
			zap.String("mode", string(r.cfg.Mode)),
			zap.Int("address", msg.Address),
			zap.String("parameter", msg.Parameter),
			zap.Bool("partial", report.Partial()),
			zap.Errors("errors", errs))
		return report, errors.Join(errs...)
	}
	return report, nil
}

// SetMode switches the topology. In order it pushes the new topology with
// both endpoints' recomputed subscriptions, drops every transit guard, and
// emits one (Host, ExtensionMode) change. A rejected push changes nothing.
func (r *Router) SetMode(mode domain.TopologyMode) error {
	if mode == r.cfg.Mode {
		return nil
	}
	next := r.Config()
	next.Mode = mode
	if err := next.Validate(); err != nil {
		r.metrics.ObserveModeSwitch(mode, false)
		return err
	}
	if err := r.push(next); err != nil {
		r.metrics.ObserveModeSwitch(mode, false)
		return err
	}

	prev := r.cfg.Mode
	r.cfg = next
	r.guard.Reset()
	r.tracker.MarkChanged(domain.ObserverHost, domain.ChangeExtensionMode)
	r.metrics.ObserveModeSwitch(mode, true)
	r.logger.Info("topology switched", zap.String("from", string(prev)), zap.String("to", string(mode)))
	return nil
}

// SetActiveParallel selects which endpoint drives confirmation and
// connection display in Parallel mode
func (r *Router) SetActiveParallel(source domain.Observer, endpoint domain.EndpointID) error {
	if endpoint == r.activeParallel() {
		return nil
	}
	next := r.Config()
	next.ActiveParallel = endpoint
	if err := next.Validate(); err != nil {
		return err
	}
	if _, ok := next.Endpoint(endpoint); !ok {
		return fmt.Errorf("active parallel %s: %w", endpoint, domain.ErrNoSecondary)
	}
	if err := r.store.Mutate(func(c *bridging.Config) error {
		c.SetTopology(next)
		return nil
	}); err != nil {
		return err
	}
	r.cfg = next
	r.tracker.MarkChanged(source, domain.ChangeParallelSelection)
	return nil
}

// SetEndpoint replaces the descriptor of the primary or secondary endpoint
// and re-pushes the subscriptions, since capacity drives the partition
func (r *Router) SetEndpoint(source domain.Observer, ep domain.Endpoint) error {
	next := r.Config()
	switch ep.ID {
	case domain.EndpointPrimary:
		next.Primary = ep
	case domain.EndpointSecondary:
		next.Secondary = &ep
	default:
		return fmt.Errorf("unknown endpoint %q", ep.ID)
	}
	if ep.Port < 0 || ep.Port > 65535 {
		return fmt.Errorf("endpoint %s: invalid port %d", ep.ID, ep.Port)
	}
	if err := r.push(next); err != nil {
		return err
	}
	r.cfg = next
	r.tracker.MarkChanged(source, domain.ChangeEndpointConfig)
	return nil
}

// RemoveSecondary drops the secondary endpoint; only allowed while the mode
// does not use it
func (r *Router) RemoveSecondary(source domain.Observer) error {
	if r.cfg.Secondary == nil {
		return nil
	}
	if r.cfg.Mode.UsesSecondary() {
		return fmt.Errorf("remove secondary in %s mode: %w", r.cfg.Mode, domain.ErrNoSecondary)
	}
	next := r.Config()
	next.Secondary = nil
	if next.ActiveParallel == domain.EndpointSecondary {
		next.ActiveParallel = domain.EndpointPrimary
	}
	if err := r.push(next); err != nil {
		return err
	}
	r.cfg = next
	r.tracker.MarkChanged(source, domain.ChangeEndpointConfig)
	return nil
}

// Resubscribe recomputes and pushes the partition for the current entity set
func (r *Router) Resubscribe() error {
	return r.push(r.Config())
}

// SubscribeWith pushes the partition of a candidate entity set. Callers
// commit the candidate to the registry only once the engine accepted it.
func (r *Router) SubscribeWith(entities []domain.Entity) error {
	return r.pushEntities(r.Config(), entities)
}

// Subscriptions returns the partition currently stored in the document
func (r *Router) Subscriptions() (Subscriptions, error) {
	cfg, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	subs := Subscriptions{}
	for id, ep := range cfg.Endpoints {
		kinds := make(map[domain.ProcessorKind][]int, len(ep.Subscriptions))
		for kind, addrs := range ep.Subscriptions {
			kinds[kind] = append([]int(nil), addrs...)
		}
		subs[id] = kinds
	}
	return subs, nil
}

// Authoritative reports whether inbound traffic from endpoint may confirm a
// write in flight and drive the connection display
func (r *Router) Authoritative(endpoint domain.EndpointID) bool {
	switch r.cfg.Mode {
	case domain.TopologyParallel:
		return endpoint == r.activeParallel()
	case domain.TopologyMirror:
		if master, ok := r.GetMaster(); ok {
			return endpoint == master
		}
		return endpoint == domain.EndpointPrimary
	case domain.TopologyExtend:
		return endpoint == domain.EndpointPrimary || endpoint == domain.EndpointSecondary
	default:
		return endpoint == domain.EndpointPrimary
	}
}

// GetMaster passes through the engine's failover decision
func (r *Router) GetMaster() (domain.EndpointID, bool) {
	for _, id := range []domain.EndpointID{domain.EndpointPrimary, domain.EndpointSecondary} {
		ep, ok := r.cfg.Endpoint(id)
		if !ok {
			continue
		}
		if r.store.Liveness(ep.Protocol) == domain.LivenessMaster {
			return id, true
		}
	}
	return "", false
}

// IsConnected reports whether the engine says endpoint's session is up
func (r *Router) IsConnected(endpoint domain.EndpointID) bool {
	ep, ok := r.cfg.Endpoint(endpoint)
	if !ok {
		return false
	}
	return r.store.Liveness(ep.Protocol).Connected()
}

// Online is the connection state to display for the whole topology
func (r *Router) Online() bool {
	switch r.cfg.Mode {
	case domain.TopologyParallel:
		return r.IsConnected(r.activeParallel())
	case domain.TopologyMirror:
		return r.IsConnected(domain.EndpointPrimary) || r.IsConnected(domain.EndpointSecondary)
	case domain.TopologyExtend:
		return r.IsConnected(domain.EndpointPrimary) && r.IsConnected(domain.EndpointSecondary)
	default:
		return r.IsConnected(domain.EndpointPrimary)
	}
}

// EndpointFor returns which endpoint id a protocol session belongs to
func (r *Router) EndpointFor(protocol domain.ProtocolID) (domain.EndpointID, bool) {
	if r.cfg.Primary.Protocol == protocol {
		return domain.EndpointPrimary, true
	}
	if r.cfg.Secondary != nil && r.cfg.Secondary.Protocol == protocol {
		return domain.EndpointSecondary, true
	}
	return "", false
}

func (r *Router) activeParallel() domain.EndpointID {
	if r.cfg.ActiveParallel == "" {
		return domain.EndpointPrimary
	}
	return r.cfg.ActiveParallel
}

func (r *Router) push(next domain.TopologyConfig) error {
	return r.pushEntities(next, r.entities.Active())
}

func (r *Router) pushEntities(next domain.TopologyConfig, entities []domain.Entity) error {
	subs := Partition(next, entities)
	return r.store.Mutate(func(c *bridging.Config) error {
		c.SetTopology(next)
		c.SetSubscriptions(domain.EndpointPrimary, subs[domain.EndpointPrimary])
		if next.Secondary != nil {
			c.SetSubscriptions(domain.EndpointSecondary, subs[domain.EndpointSecondary])
		}
		return nil
	})
}
