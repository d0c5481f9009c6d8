// Package registry is the stable-identity store for editable entities.
//
// Ids are handed out from a monotonic counter and never reused while the
// registry holds at least one entity; destroying an entity never renumbers
// the survivors.
package registry

import (
	"fmt"

	"go.uber.org/zap"

	"mixbridge/internal/change"
	"mixbridge/internal/domain"
)

// BoundsFunc returns the valid domain address range for a kind
type BoundsFunc func(kind domain.ProcessorKind) (min, max int)

// DefaultBounds is the range of a single native endpoint
func DefaultBounds(domain.ProcessorKind) (int, int) {
	return 1, domain.DefaultCapacity
}

// Option configures a Registry
type Option func(*Registry)

// WithBounds sets the address range provider, typically topology-aware
func WithBounds(fn BoundsFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.bounds = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry holds every live entity. It belongs to the owner context and does
// no locking.
type Registry struct {
	tracker  *change.Tracker
	bounds   BoundsFunc
	logger   *zap.Logger
	entities map[domain.ProcessorID]*domain.Entity
	order    []domain.ProcessorID
	nextID   domain.ProcessorID
}

// New creates an empty registry reporting changes to tracker
func New(tracker *change.Tracker, opts ...Option) *Registry {
	r := &Registry{
		tracker:  tracker,
		bounds:   DefaultBounds,
		logger:   zap.NewNop(),
		entities: make(map[domain.ProcessorID]*domain.Entity),
		nextID:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create adds an entity of kind at the lowest free address and returns its id
func (r *Registry) Create(kind domain.ProcessorKind) (domain.ProcessorID, error) {
	e, err := r.Draft(kind)
	if err != nil {
		return domain.InvalidProcessorID, err
	}
	return r.insert(e)
}

// Draft returns the entity Create would add, without adding it. The id is
// left unset.
func (r *Registry) Draft(kind domain.ProcessorKind) (domain.Entity, error) {
	if !kind.Valid() {
		return domain.Entity{}, fmt.Errorf("create: unknown processor kind %q", kind)
	}
	addr, ok := r.lowestFree(kind)
	if !ok {
		min, max := r.bounds(kind)
		return domain.Entity{}, fmt.Errorf("create %s: no free address in [%d, %d]: %w", kind, min, max, domain.ErrInvalidAddress)
	}
	return domain.Entity{Kind: kind, Address: addr, ComsMode: domain.ComsTxRx}, nil
}

// Restore adds a fully described entity, keeping its address (clamped) and
// coms mode. The id is assigned by the registry.
func (r *Registry) Restore(e domain.Entity) (domain.ProcessorID, error) {
	if !e.Kind.Valid() {
		return domain.InvalidProcessorID, fmt.Errorf("restore: unknown processor kind %q", e.Kind)
	}
	if e.Address < 1 {
		return domain.InvalidProcessorID, fmt.Errorf("restore: address %d: %w", e.Address, domain.ErrInvalidAddress)
	}
	min, max := r.bounds(e.Kind)
	e.Address = domain.ClampAddress(e.Address, min, max)
	return r.insert(e.Clone())
}

func (r *Registry) insert(e domain.Entity) (domain.ProcessorID, error) {
	id := r.nextID
	r.nextID++

	e.ID = id
	r.entities[id] = &e
	r.order = append(r.order, id)

	r.logger.Debug("entity created",
		zap.Uint32("id", uint32(id)),
		zap.String("kind", string(e.Kind)),
		zap.Int("address", e.Address))
	r.tracker.MarkChanged(domain.ObserverHost, domain.ChangeNumProcessors)
	return id, nil
}

// Destroy removes an entity. Surviving ids are untouched.
func (r *Registry) Destroy(id domain.ProcessorID) error {
	if _, ok := r.entities[id]; !ok {
		return fmt.Errorf("destroy %d: %w", id, domain.ErrUnknownEntity)
	}
	delete(r.entities, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.entities) == 0 {
		r.nextID = 1
	}

	r.logger.Debug("entity destroyed", zap.Uint32("id", uint32(id)))
	r.tracker.MarkChanged(domain.ObserverHost, domain.ChangeNumProcessors)
	return nil
}

// Get returns a copy of the entity
func (r *Registry) Get(id domain.ProcessorID) (domain.Entity, error) {
	e, ok := r.entities[id]
	if !ok {
		return domain.Entity{}, fmt.Errorf("get %d: %w", id, domain.ErrUnknownEntity)
	}
	return e.Clone(), nil
}

// List returns live ids in creation order
func (r *Registry) List() []domain.ProcessorID {
	return append([]domain.ProcessorID(nil), r.order...)
}

// ListKind returns live ids of one kind in creation order
func (r *Registry) ListKind(kind domain.ProcessorKind) []domain.ProcessorID {
	var ids []domain.ProcessorID
	for _, id := range r.order {
		if r.entities[id].Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

// CountActive returns the number of live entities
func (r *Registry) CountActive() int {
	return len(r.entities)
}

// CountKind returns the number of live entities of kind
func (r *Registry) CountKind(kind domain.ProcessorKind) int {
	n := 0
	for _, e := range r.entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// AddressRange returns the valid domain address range of kind
func (r *Registry) AddressRange(kind domain.ProcessorKind) (int, int) {
	return r.bounds(kind)
}

// Active returns a snapshot of every live entity in creation order
func (r *Registry) Active() []domain.Entity {
	out := make([]domain.Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id].Clone())
	}
	return out
}

// FindByAddress returns the ids of every entity of kind at addr
func (r *Registry) FindByAddress(kind domain.ProcessorKind, addr int) []domain.ProcessorID {
	var ids []domain.ProcessorID
	for _, id := range r.order {
		e := r.entities[id]
		if e.Kind == kind && e.Address == addr {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetAddress moves an entity to addr. Non-positive addresses are rejected;
// anything above the kind's range is clamped to its maximum.
func (r *Registry) SetAddress(source domain.Observer, id domain.ProcessorID, addr int) (domain.Entity, error) {
	addr, err := r.CheckAddress(id, addr)
	if err != nil {
		return domain.Entity{}, err
	}
	e := r.entities[id]
	if addr != e.Address {
		e.Address = addr
		r.tracker.MarkChanged(source, domain.ChangeDomainAddress)
	}
	return e.Clone(), nil
}

// CheckAddress validates addr for entity id and returns it clamped to the
// kind's range, without moving the entity
func (r *Registry) CheckAddress(id domain.ProcessorID, addr int) (int, error) {
	e, ok := r.entities[id]
	if !ok {
		return 0, fmt.Errorf("set address of %d: %w", id, domain.ErrUnknownEntity)
	}
	if addr < 1 {
		return 0, fmt.Errorf("set address of %d to %d: %w", id, addr, domain.ErrInvalidAddress)
	}
	min, max := r.bounds(e.Kind)
	return domain.ClampAddress(addr, min, max), nil
}

// SetComsMode changes whether an entity sends and/or receives
func (r *Registry) SetComsMode(source domain.Observer, id domain.ProcessorID, mode domain.ComsMode) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("set coms mode of %d: %w", id, domain.ErrUnknownEntity)
	}
	mode &= domain.ComsTxRx
	if mode != e.ComsMode {
		e.ComsMode = mode
		r.tracker.MarkChanged(source, domain.ChangeComsMode)
	}
	return nil
}

// SetName renames an entity
func (r *Registry) SetName(source domain.Observer, id domain.ProcessorID, name string) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("set name of %d: %w", id, domain.ErrUnknownEntity)
	}
	if name != e.Name {
		e.Name = name
		r.tracker.MarkChanged(source, domain.ChangeName)
	}
	return nil
}

// SetValue stores the last known value of a parameter without marking; the
// caller decides whether the update counts as a change.
func (r *Registry) SetValue(id domain.ProcessorID, param string, values []float64) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("set %s of %d: %w", param, id, domain.ErrUnknownEntity)
	}
	e.SetValue(param, values)
	return nil
}

// Clear destroys every entity with a single notification
func (r *Registry) Clear() {
	if len(r.entities) == 0 {
		return
	}
	r.entities = make(map[domain.ProcessorID]*domain.Entity)
	r.order = nil
	r.nextID = 1
	r.tracker.MarkChanged(domain.ObserverHost, domain.ChangeNumProcessors)
}

func (r *Registry) lowestFree(kind domain.ProcessorKind) (int, bool) {
	min, max := r.bounds(kind)
	used := make(map[int]bool)
	for _, e := range r.entities {
		if e.Kind == kind {
			used[e.Address] = true
		}
	}
	for a := min; a <= max; a++ {
		if !used[a] {
			return a, true
		}
	}
	return 0, false
}
