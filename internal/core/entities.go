package core

import (
	"fmt"

	"mixbridge/internal/domain"
	"mixbridge/internal/topology"
)

// CreateEntity adds an entity of kind at its lowest free address. The
// subscription set including the new entity is pushed first; a rejected
// push leaves the registry untouched.
func (c *Core) CreateEntity(kind domain.ProcessorKind) (domain.ProcessorID, error) {
	draft, err := c.registry.Draft(kind)
	if err != nil {
		return domain.InvalidProcessorID, err
	}
	if err := c.router.SubscribeWith(append(c.registry.Active(), draft)); err != nil {
		return domain.InvalidProcessorID, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	id, err := c.registry.Create(kind)
	if err != nil {
		return domain.InvalidProcessorID, err
	}
	c.metrics.SetEntities(kind, c.registry.CountKind(kind))
	c.events.Publish(Event{Type: EventEntityCreated, Payload: map[string]any{"id": id, "kind": kind}})
	return id, nil
}

// DestroyEntity removes an entity and drops its subscriptions. The entity
// stays gone even if the engine refuses the new subscription set.
func (c *Core) DestroyEntity(id domain.ProcessorID) error {
	e, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if err := c.registry.Destroy(id); err != nil {
		return err
	}
	c.metrics.SetEntities(e.Kind, c.registry.CountKind(e.Kind))
	c.events.Publish(Event{Type: EventEntityDestroyed, Payload: map[string]any{"id": id, "kind": e.Kind}})
	if err := c.router.Resubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", id, err)
	}
	return nil
}

// Entity returns a copy of one entity
func (c *Core) Entity(id domain.ProcessorID) (domain.Entity, error) {
	return c.registry.Get(id)
}

// Entities returns copies of every entity in creation order
func (c *Core) Entities() []domain.Entity {
	return c.registry.Active()
}

// AddressRange returns the valid domain addresses of kind under the current topology
func (c *Core) AddressRange(kind domain.ProcessorKind) (int, int) {
	return c.registry.AddressRange(kind)
}

// SetDomainAddress moves an entity. Addresses below 1 are rejected, larger
// ones are clamped to the range. The registry only changes once the engine
// accepted the new subscription set.
func (c *Core) SetDomainAddress(source domain.Observer, id domain.ProcessorID, addr int) (domain.Entity, error) {
	prev, err := c.registry.Get(id)
	if err != nil {
		return domain.Entity{}, err
	}
	addr, err = c.registry.CheckAddress(id, addr)
	if err != nil {
		return domain.Entity{}, err
	}
	if addr == prev.Address {
		return prev, nil
	}
	if prev.ComsMode.CanReceive() {
		candidate := c.candidate(id, func(e *domain.Entity) { e.Address = addr })
		if err := c.router.SubscribeWith(candidate); err != nil {
			return domain.Entity{}, fmt.Errorf("resubscribe %d at %d: %w", id, addr, err)
		}
	}
	e, err := c.registry.SetAddress(source, id, addr)
	if err != nil {
		return domain.Entity{}, err
	}
	c.events.Publish(Event{Type: EventEntityUpdated, Payload: e})
	return e, nil
}

// SetComsMode changes whether an entity sends and/or receives. Receive
// changes push the moved subscriptions before the mode is stored.
func (c *Core) SetComsMode(source domain.Observer, id domain.ProcessorID, mode domain.ComsMode) error {
	prev, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	mode &= domain.ComsTxRx
	if prev.ComsMode.CanReceive() != mode.CanReceive() {
		candidate := c.candidate(id, func(e *domain.Entity) { e.ComsMode = mode })
		if err := c.router.SubscribeWith(candidate); err != nil {
			return fmt.Errorf("resubscribe %d: %w", id, err)
		}
	}
	return c.registry.SetComsMode(source, id, mode)
}

// candidate returns the live entity set with edit applied to entity id
func (c *Core) candidate(id domain.ProcessorID, edit func(*domain.Entity)) []domain.Entity {
	entities := c.registry.Active()
	for i := range entities {
		if entities[i].ID == id {
			edit(&entities[i])
		}
	}
	return entities
}

// SetName renames an entity
func (c *Core) SetName(source domain.Observer, id domain.ProcessorID, name string) error {
	return c.registry.SetName(source, id, name)
}

// SetParameter stores a local edit and routes it to the endpoint(s). The
// value kind is put in transit so the endpoint's echo is taken as a
// confirmation. Entities that do not transmit keep the value locally. An
// address the current topology cannot route is rejected before anything is
// stored.
func (c *Core) SetParameter(source domain.Observer, id domain.ProcessorID, param string, values []float64) (topology.SendReport, error) {
	e, err := c.registry.Get(id)
	if err != nil {
		return topology.SendReport{}, err
	}
	if _, err := c.router.Resolve(e.Address); err != nil {
		return topology.SendReport{}, fmt.Errorf("set %s of %d: %w", param, id, err)
	}
	if err := c.registry.SetValue(id, param, values); err != nil {
		return topology.SendReport{}, err
	}
	c.tracker.MarkChanged(source, domain.ChangeParameterValue)
	if !e.ComsMode.CanSend() {
		return topology.SendReport{}, nil
	}

	c.guard.Begin(domain.ChangeParameterValue)
	return c.router.Send(domain.Message{
		Kind:      e.Kind,
		Address:   e.Address,
		Parameter: param,
		Values:    values,
	})
}
