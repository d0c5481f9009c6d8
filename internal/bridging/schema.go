package bridging

import (
	"sort"

	"mixbridge/internal/domain"
)

// Managed top-level section keys
const (
	SectionTopology  = "topology"
	SectionEndpoints = "endpoints"
	SectionProtocols = "protocols"
)

// Config is the typed view of the sections of the engine document the core owns
type Config struct {
	Topology  TopologySection                       `yaml:"topology"`
	Endpoints map[domain.EndpointID]EndpointSection `yaml:"endpoints,omitempty"`
	Protocols map[domain.ProtocolID]ProtocolSection `yaml:"protocols,omitempty"`
}

// TopologySection holds the routing mode
type TopologySection struct {
	Mode           domain.TopologyMode `yaml:"mode"`
	ActiveParallel domain.EndpointID   `yaml:"active_parallel,omitempty"`
}

// EndpointSection describes one endpoint session and the addresses it is
// subscribed to, per kind
type EndpointSection struct {
	Protocol      domain.ProtocolID              `yaml:"protocol"`
	Host          string                         `yaml:"host"`
	Port          int                            `yaml:"port"`
	Capacity      int                            `yaml:"capacity"`
	Subscriptions map[domain.ProcessorKind][]int `yaml:"subscriptions,omitempty"`
	Extra         map[string]any                 `yaml:",inline"`
}

// ProtocolSection describes one bridging protocol and its muted addresses
type ProtocolSection struct {
	Type  domain.ProtocolType            `yaml:"type"`
	Host  string                         `yaml:"host,omitempty"`
	Port  int                            `yaml:"port,omitempty"`
	Muted map[domain.ProcessorKind][]int `yaml:"muted,omitempty"`
	Extra map[string]any                 `yaml:",inline"`
}

// Clone returns a deep copy
func (c Config) Clone() Config {
	out := Config{Topology: c.Topology}
	if c.Endpoints != nil {
		out.Endpoints = make(map[domain.EndpointID]EndpointSection, len(c.Endpoints))
		for id, ep := range c.Endpoints {
			ep.Subscriptions = cloneAddrMap(ep.Subscriptions)
			ep.Extra = cloneExtra(ep.Extra)
			out.Endpoints[id] = ep
		}
	}
	if c.Protocols != nil {
		out.Protocols = make(map[domain.ProtocolID]ProtocolSection, len(c.Protocols))
		for id, p := range c.Protocols {
			p.Muted = cloneAddrMap(p.Muted)
			p.Extra = cloneExtra(p.Extra)
			out.Protocols[id] = p
		}
	}
	return out
}

// TopologyConfig builds the domain topology from the document
func (c Config) TopologyConfig() domain.TopologyConfig {
	tc := domain.TopologyConfig{
		Mode:           c.Topology.Mode,
		ActiveParallel: c.Topology.ActiveParallel,
	}
	if tc.Mode == "" {
		tc.Mode = domain.TopologyDisabled
	}
	if ep, ok := c.Endpoints[domain.EndpointPrimary]; ok {
		tc.Primary = ep.endpoint(domain.EndpointPrimary)
	} else {
		tc.Primary = domain.Endpoint{ID: domain.EndpointPrimary, Protocol: domain.ProtocolPrimary, Capacity: domain.DefaultCapacity}
	}
	if ep, ok := c.Endpoints[domain.EndpointSecondary]; ok {
		sec := ep.endpoint(domain.EndpointSecondary)
		tc.Secondary = &sec
	}
	return tc
}

// SetTopology writes tc into the document, keeping existing subscriptions
// of endpoints that stay configured
func (c *Config) SetTopology(tc domain.TopologyConfig) {
	c.Topology = TopologySection{Mode: tc.Mode, ActiveParallel: tc.ActiveParallel}
	if c.Endpoints == nil {
		c.Endpoints = make(map[domain.EndpointID]EndpointSection)
	}
	c.Endpoints[domain.EndpointPrimary] = c.Endpoints[domain.EndpointPrimary].with(tc.Primary)
	if tc.Secondary != nil {
		c.Endpoints[domain.EndpointSecondary] = c.Endpoints[domain.EndpointSecondary].with(*tc.Secondary)
	} else {
		delete(c.Endpoints, domain.EndpointSecondary)
	}
}

// SetSubscriptions replaces the subscription lists of an endpoint
func (c *Config) SetSubscriptions(id domain.EndpointID, subs map[domain.ProcessorKind][]int) {
	if c.Endpoints == nil {
		c.Endpoints = make(map[domain.EndpointID]EndpointSection)
	}
	ep, ok := c.Endpoints[id]
	if !ok {
		return
	}
	ep.Subscriptions = nil
	for kind, addrs := range subs {
		if len(addrs) == 0 {
			continue
		}
		if ep.Subscriptions == nil {
			ep.Subscriptions = make(map[domain.ProcessorKind][]int)
		}
		ep.Subscriptions[kind] = append([]int(nil), addrs...)
	}
	c.Endpoints[id] = ep
}

func (s EndpointSection) endpoint(id domain.EndpointID) domain.Endpoint {
	return domain.Endpoint{
		ID:       id,
		Protocol: s.Protocol,
		Host:     s.Host,
		Port:     s.Port,
		Capacity: s.Capacity,
	}
}

func (s EndpointSection) with(ep domain.Endpoint) EndpointSection {
	s.Protocol = ep.Protocol
	s.Host = ep.Host
	s.Port = ep.Port
	s.Capacity = ep.NativeCapacity()
	return s
}

// SortedAddrs returns a sorted, de-duplicated copy of addrs
func SortedAddrs(addrs []int) []int {
	if len(addrs) == 0 {
		return nil
	}
	out := append([]int(nil), addrs...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func cloneAddrMap(m map[domain.ProcessorKind][]int) map[domain.ProcessorKind][]int {
	if m == nil {
		return nil
	}
	out := make(map[domain.ProcessorKind][]int, len(m))
	for k, v := range m {
		out[k] = append([]int(nil), v...)
	}
	return out
}

func cloneExtra(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
