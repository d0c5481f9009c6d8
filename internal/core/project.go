package core

import (
	"fmt"

	"go.uber.org/zap"

	"mixbridge/internal/bridging"
	"mixbridge/internal/domain"
	"mixbridge/internal/topology"
)

// ProjectVersion is the current persisted project layout
const ProjectVersion = 1

// Snapshot captures everything that survives a restart
func (c *Core) Snapshot() (domain.Project, error) {
	cfg, err := c.store.Load()
	if err != nil {
		return domain.Project{}, fmt.Errorf("snapshot: %w", err)
	}
	mutes, err := c.mutes.Snapshot()
	if err != nil {
		return domain.Project{}, fmt.Errorf("snapshot mutes: %w", err)
	}

	p := domain.Project{
		Version:  ProjectVersion,
		Topology: c.router.Config(),
		Mutes:    mutes,
		Entities: c.registry.Active(),
	}
	for id, sec := range cfg.Protocols {
		p.Protocols = append(p.Protocols, domain.ProtocolSpec{
			ID:   id,
			Type: sec.Type,
			Host: sec.Host,
			Port: sec.Port,
		})
	}
	p.Normalize()
	return p, nil
}

// Restore replaces the topology, protocols, mute lists and entity set with
// those of p in a single engine push. Entity ids are reassigned. Nothing
// changes if p is invalid or the engine rejects the document.
func (c *Core) Restore(p domain.Project) error {
	if p.Version > ProjectVersion {
		return fmt.Errorf("project version %d is newer than %d", p.Version, ProjectVersion)
	}
	if err := p.Topology.Validate(); err != nil {
		return fmt.Errorf("restore topology: %w", err)
	}

	limit := topology.Limit(p.Topology)
	entities := make([]domain.Entity, 0, len(p.Entities))
	for _, e := range p.Entities {
		if !e.Kind.Valid() {
			return fmt.Errorf("restore entity %d: unknown kind %q", e.ID, e.Kind)
		}
		if e.Address < 1 {
			return fmt.Errorf("restore entity %d at %d: %w", e.ID, e.Address, domain.ErrInvalidAddress)
		}
		e = e.Clone()
		e.Address = domain.ClampAddress(e.Address, 1, limit)
		entities = append(entities, e)
	}
	for id := range p.Mutes {
		if !hasProtocol(p.Protocols, id) {
			return fmt.Errorf("restore mutes of %s: %w", id, domain.ErrUnknownProtocol)
		}
	}

	subs := topology.Partition(p.Topology, entities)
	err := c.store.Mutate(func(cfg *bridging.Config) error {
		cfg.SetTopology(p.Topology)
		cfg.SetSubscriptions(domain.EndpointPrimary, subs[domain.EndpointPrimary])
		if p.Topology.Secondary != nil {
			cfg.SetSubscriptions(domain.EndpointSecondary, subs[domain.EndpointSecondary])
		}
		cfg.Protocols = restoreProtocols(cfg.Protocols, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if err := c.router.Reload(); err != nil {
		return err
	}
	c.registry.Clear()
	for _, e := range entities {
		if _, err := c.registry.Restore(e); err != nil {
			c.logger.Warn("entity not restored", zap.String("kind", string(e.Kind)), zap.Int("address", e.Address), zap.Error(err))
		}
	}
	for _, kind := range domain.ProcessorKinds {
		c.metrics.SetEntities(kind, c.registry.CountKind(kind))
	}
	c.mutes.Invalidate()
	c.guard.Reset()
	c.tracker.MarkChanged(domain.ObserverPersistence, domain.ChangeAll)

	c.logger.Info("project restored",
		zap.String("mode", string(p.Topology.Mode)),
		zap.Int("entities", len(entities)),
		zap.Int("protocols", len(p.Protocols)))
	c.events.Publish(Event{Type: EventProjectRestored, Payload: map[string]int{"entities": len(entities)}})
	return nil
}

func hasProtocol(specs []domain.ProtocolSpec, id domain.ProtocolID) bool {
	for _, s := range specs {
		if s.ID == id {
			return true
		}
	}
	return false
}

// restoreProtocols keeps the foreign keys of protocols that stay
func restoreProtocols(current map[domain.ProtocolID]bridging.ProtocolSection, p domain.Project) map[domain.ProtocolID]bridging.ProtocolSection {
	if len(p.Protocols) == 0 {
		return nil
	}
	out := make(map[domain.ProtocolID]bridging.ProtocolSection, len(p.Protocols))
	for _, spec := range p.Protocols {
		sec := current[spec.ID]
		sec.Type = spec.Type
		sec.Host = spec.Host
		sec.Port = spec.Port
		sec.Muted = nil
		for kind, addrs := range p.Mutes[spec.ID] {
			if len(addrs) == 0 {
				continue
			}
			if sec.Muted == nil {
				sec.Muted = make(map[domain.ProcessorKind][]int)
			}
			sec.Muted[kind] = bridging.SortedAddrs(addrs)
		}
		out[spec.ID] = sec
	}
	return out
}
