// Package mute keeps the per-protocol sets of muted domain addresses.
//
// Each protocol's set is hydrated from the engine document on first use and
// is the only in-memory copy afterwards. Every change is written through to
// the document before SetMuted returns; a rejected push leaves the cache as
// it was, so cache and document never diverge.
package mute

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"mixbridge/internal/bridging"
	"mixbridge/internal/change"
	"mixbridge/internal/domain"
)

// ConfigStore is the part of the bridging store the cache needs
type ConfigStore interface {
	Load() (bridging.Config, error)
	Mutate(fn func(*bridging.Config) error) error
}

// EntityResolver maps an entity id to its current state
type EntityResolver interface {
	Get(id domain.ProcessorID) (domain.Entity, error)
}

type addrSet map[int]struct{}

type protocolSet map[domain.ProcessorKind]addrSet

// Cache is the mute cache. Owner context only.
type Cache struct {
	store    ConfigStore
	entities EntityResolver
	tracker  *change.Tracker
	logger   *zap.Logger
	sets     map[domain.ProtocolID]protocolSet
}

// New creates an empty, unhydrated cache
func New(store ConfigStore, entities EntityResolver, tracker *change.Tracker, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		entities: entities,
		tracker:  tracker,
		logger:   logger,
		sets:     make(map[domain.ProtocolID]protocolSet),
	}
}

// IsMuted reports whether the entity's current domain address is muted for protocol
func (c *Cache) IsMuted(protocol domain.ProtocolID, id domain.ProcessorID) (bool, error) {
	set, err := c.hydrate(protocol)
	if err != nil {
		return false, err
	}
	e, err := c.entities.Get(id)
	if err != nil {
		return false, err
	}
	_, muted := set[e.Kind][e.Address]
	return muted, nil
}

// IsAddressMuted reports membership directly by kind and domain address
func (c *Cache) IsAddressMuted(protocol domain.ProtocolID, kind domain.ProcessorKind, addr int) (bool, error) {
	set, err := c.hydrate(protocol)
	if err != nil {
		return false, err
	}
	_, muted := set[kind][addr]
	return muted, nil
}

// SetMuted mutes or unmutes every entity in ids for protocol. It reports
// whether anything actually changed; a redundant call returns false.
func (c *Cache) SetMuted(source domain.Observer, protocol domain.ProtocolID, ids []domain.ProcessorID, muted bool) (bool, error) {
	set, err := c.hydrate(protocol)
	if err != nil {
		return false, err
	}

	targets := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := c.entities.Get(id)
		if err != nil {
			return false, err
		}
		targets = append(targets, e)
	}

	next := set.clone()
	changed := false
	for _, e := range targets {
		addrs := next[e.Kind]
		if addrs == nil {
			addrs = make(addrSet)
			next[e.Kind] = addrs
		}
		_, has := addrs[e.Address]
		switch {
		case muted && !has:
			addrs[e.Address] = struct{}{}
			changed = true
		case !muted && has:
			delete(addrs, e.Address)
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	err = c.store.Mutate(func(cfg *bridging.Config) error {
		p, ok := cfg.Protocols[protocol]
		if !ok {
			return fmt.Errorf("mute on %s: %w", protocol, domain.ErrUnknownProtocol)
		}
		p.Muted = next.lists()
		cfg.Protocols[protocol] = p
		return nil
	})
	if err != nil {
		c.logger.Warn("mute push failed",
			zap.String("protocol", string(protocol)),
			zap.Error(err))
		return false, err
	}

	c.sets[protocol] = next
	c.tracker.MarkChanged(source, domain.ChangeMuteState)
	c.logger.Debug("mute updated",
		zap.String("protocol", string(protocol)),
		zap.Int("entities", len(ids)),
		zap.Bool("muted", muted))
	return true, nil
}

// Muted returns the sorted muted addresses of kind for protocol
func (c *Cache) Muted(protocol domain.ProtocolID, kind domain.ProcessorKind) ([]int, error) {
	set, err := c.hydrate(protocol)
	if err != nil {
		return nil, err
	}
	return set[kind].sorted(), nil
}

// Snapshot returns every hydratable protocol's mute lists
func (c *Cache) Snapshot() (map[domain.ProtocolID]domain.MuteList, error) {
	cfg, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ProtocolID]domain.MuteList, len(cfg.Protocols))
	for id := range cfg.Protocols {
		set, err := c.hydrate(id)
		if err != nil {
			return nil, err
		}
		if lists := set.lists(); len(lists) > 0 {
			out[id] = domain.MuteList(lists)
		}
	}
	return out, nil
}

// Invalidate drops every hydrated set; the next access re-reads the document
func (c *Cache) Invalidate() {
	c.sets = make(map[domain.ProtocolID]protocolSet)
}

func (c *Cache) hydrate(protocol domain.ProtocolID) (protocolSet, error) {
	if set, ok := c.sets[protocol]; ok {
		return set, nil
	}
	cfg, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	p, ok := cfg.Protocols[protocol]
	if !ok {
		return nil, fmt.Errorf("protocol %s: %w", protocol, domain.ErrUnknownProtocol)
	}
	set := make(protocolSet, len(p.Muted))
	for kind, addrs := range p.Muted {
		s := make(addrSet, len(addrs))
		for _, a := range addrs {
			s[a] = struct{}{}
		}
		set[kind] = s
	}
	c.sets[protocol] = set
	return set, nil
}

func (s protocolSet) clone() protocolSet {
	out := make(protocolSet, len(s))
	for kind, addrs := range s {
		cp := make(addrSet, len(addrs))
		for a := range addrs {
			cp[a] = struct{}{}
		}
		out[kind] = cp
	}
	return out
}

func (s protocolSet) lists() map[domain.ProcessorKind][]int {
	out := make(map[domain.ProcessorKind][]int)
	for kind, addrs := range s {
		if len(addrs) > 0 {
			out[kind] = addrs.sorted()
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a addrSet) sorted() []int {
	if len(a) == 0 {
		return nil
	}
	out := make([]int, 0, len(a))
	for addr := range a {
		out = append(out, addr)
	}
	sort.Ints(out)
	return out
}
