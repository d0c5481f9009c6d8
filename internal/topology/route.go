// Package topology decides where each outgoing write goes when one or two
// endpoints share the application's address space.
//
// Route resolution is a pure function of (TopologyConfig, domain address):
//
//	Disabled  primary only, address unchanged
//	Extend    a <= C to primary at a, C < a <= 2C to secondary at a-C
//	Parallel  both endpoints, address unchanged
//	Mirror    both endpoints, address unchanged; mastership is the engine's call
//
// where C is the primary endpoint's native capacity. Only Router.Send has
// I/O failure modes.
package topology

import (
	"errors"
	"fmt"
	"sort"

	"mixbridge/internal/domain"
)

// ErrNotRouted is returned for inbound traffic from an endpoint the current
// topology does not use
var ErrNotRouted = errors.New("endpoint not routed in current topology")

// Capacity is C, the primary endpoint's native channel count
func Capacity(cfg domain.TopologyConfig) int {
	return cfg.Primary.NativeCapacity()
}

// Limit is the highest valid domain address under cfg
func Limit(cfg domain.TopologyConfig) int {
	if cfg.Mode == domain.TopologyExtend {
		return 2 * Capacity(cfg)
	}
	return Capacity(cfg)
}

// Resolve returns the endpoint(s) and remapped address(es) for a write to addr
func Resolve(cfg domain.TopologyConfig, addr int) ([]domain.Target, error) {
	if addr < 1 || addr > Limit(cfg) {
		return nil, fmt.Errorf("address %d outside [1, %d] in %s mode: %w", addr, Limit(cfg), cfg.Mode, domain.ErrInvalidAddress)
	}
	c := Capacity(cfg)

	switch cfg.Mode {
	case domain.TopologyDisabled, "":
		return []domain.Target{{Endpoint: domain.EndpointPrimary, Address: addr}}, nil

	case domain.TopologyExtend:
		if cfg.Secondary == nil {
			return nil, fmt.Errorf("extend: %w", domain.ErrNoSecondary)
		}
		if addr <= c {
			return []domain.Target{{Endpoint: domain.EndpointPrimary, Address: addr}}, nil
		}
		return []domain.Target{{Endpoint: domain.EndpointSecondary, Address: addr - c}}, nil

	case domain.TopologyParallel, domain.TopologyMirror:
		if cfg.Secondary == nil {
			return nil, fmt.Errorf("%s: %w", cfg.Mode, domain.ErrNoSecondary)
		}
		return []domain.Target{
			{Endpoint: domain.EndpointPrimary, Address: addr},
			{Endpoint: domain.EndpointSecondary, Address: addr},
		}, nil

	default:
		return nil, fmt.Errorf("unknown topology mode %q", cfg.Mode)
	}
}

// ResolveInbound maps an endpoint-native address back to the domain address
func ResolveInbound(cfg domain.TopologyConfig, endpoint domain.EndpointID, addr int) (int, error) {
	c := Capacity(cfg)
	if addr < 1 || addr > c {
		return 0, fmt.Errorf("inbound address %d from %s outside [1, %d]: %w", addr, endpoint, c, domain.ErrInvalidAddress)
	}

	switch endpoint {
	case domain.EndpointPrimary:
		return addr, nil
	case domain.EndpointSecondary:
		if cfg.Secondary == nil || !cfg.Mode.UsesSecondary() {
			return 0, fmt.Errorf("%s in %s mode: %w", endpoint, cfg.Mode, ErrNotRouted)
		}
		if cfg.Mode == domain.TopologyExtend {
			return addr + c, nil
		}
		return addr, nil
	default:
		return 0, fmt.Errorf("unknown endpoint %q: %w", endpoint, ErrNotRouted)
	}
}

// Subscriptions is the per-endpoint, per-kind set of subscribed addresses
type Subscriptions map[domain.EndpointID]map[domain.ProcessorKind][]int

// Addresses returns the sorted subscribed addresses of kind at endpoint
func (s Subscriptions) Addresses(endpoint domain.EndpointID, kind domain.ProcessorKind) []int {
	return s[endpoint][kind]
}

// Count returns the number of subscribed addresses at endpoint
func (s Subscriptions) Count(endpoint domain.EndpointID) int {
	n := 0
	for _, addrs := range s[endpoint] {
		n += len(addrs)
	}
	return n
}

// Partition splits the receive-enabled entities across endpoints by the same
// rule Resolve uses. Entities whose address is not routable are left out.
// The primary is always present; the secondary is present whenever it is
// configured, empty when the mode does not use it.
func Partition(cfg domain.TopologyConfig, entities []domain.Entity) Subscriptions {
	subs := Subscriptions{domain.EndpointPrimary: {}}
	if cfg.Secondary != nil {
		subs[domain.EndpointSecondary] = map[domain.ProcessorKind][]int{}
	}

	for _, e := range entities {
		if !e.ComsMode.CanReceive() {
			continue
		}
		targets, err := Resolve(cfg, e.Address)
		if err != nil {
			continue
		}
		for _, t := range targets {
			subs[t.Endpoint][e.Kind] = append(subs[t.Endpoint][e.Kind], t.Address)
		}
	}

	for _, kinds := range subs {
		for kind, addrs := range kinds {
			kinds[kind] = dedupe(addrs)
		}
	}
	return subs
}

func dedupe(addrs []int) []int {
	sort.Ints(addrs)
	out := addrs[:0]
	for _, a := range addrs {
		if len(out) == 0 || out[len(out)-1] != a {
			out = append(out, a)
		}
	}
	return out
}
