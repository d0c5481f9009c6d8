package domain

import "sort"

// MuteList is the set of muted domain addresses of one protocol, per kind
type MuteList map[ProcessorKind][]int

// Project is the persisted state of the routing core
type Project struct {
	Version   int                     `json:"version" yaml:"version"`
	Topology  TopologyConfig          `json:"topology" yaml:"topology"`
	Protocols []ProtocolSpec          `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	Mutes     map[ProtocolID]MuteList `json:"mutes,omitempty" yaml:"mutes,omitempty"`
	Entities  []Entity                `json:"entities" yaml:"entities"`
}

// ProtocolSpec declares one bridging protocol session
type ProtocolSpec struct {
	ID   ProtocolID   `json:"id" yaml:"id"`
	Type ProtocolType `json:"type" yaml:"type"`
	Host string       `json:"host,omitempty" yaml:"host,omitempty"`
	Port int          `json:"port,omitempty" yaml:"port,omitempty"`
}

// NewProject creates an empty project with a primary-only topology
func NewProject() *Project {
	return &Project{
		Version: 1,
		Topology: TopologyConfig{
			Mode: TopologyDisabled,
			Primary: Endpoint{
				ID:       EndpointPrimary,
				Protocol: ProtocolPrimary,
				Capacity: DefaultCapacity,
			},
		},
		Mutes: make(map[ProtocolID]MuteList),
	}
}

// Normalize sorts every list so that equal projects compare equal
func (p *Project) Normalize() {
	sort.Slice(p.Entities, func(i, j int) bool { return p.Entities[i].ID < p.Entities[j].ID })
	sort.Slice(p.Protocols, func(i, j int) bool { return p.Protocols[i].ID < p.Protocols[j].ID })
	for _, ml := range p.Mutes {
		for kind, addrs := range ml {
			sorted := append([]int(nil), addrs...)
			sort.Ints(sorted)
			ml[kind] = sorted
		}
	}
}
