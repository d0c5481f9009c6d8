package codec

import (
	"fmt"
	"io"
	"sort"

	"mixbridge/internal/domain"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles human-edited YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlProject spells coms modes as words and groups mutes per protocol
type yamlProject struct {
	Version   int                   `yaml:"version"`
	Topology  domain.TopologyConfig `yaml:"topology"`
	Protocols []domain.ProtocolSpec `yaml:"protocols,omitempty"`
	Mutes     []yamlMute            `yaml:"mutes,omitempty"`
	Entities  []yamlEntity          `yaml:"entities"`
}

type yamlMute struct {
	Protocol string           `yaml:"protocol"`
	Kinds    map[string][]int `yaml:"kinds"`
}

type yamlEntity struct {
	ID       uint32               `yaml:"id,omitempty"`
	Kind     string               `yaml:"kind"`
	Address  int                  `yaml:"address"`
	ComsMode string               `yaml:"coms_mode,omitempty"`
	Name     string               `yaml:"name,omitempty"`
	Values   map[string][]float64 `yaml:"values,omitempty"`
}

// Parse imports a project from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Project, error) {
	var yp yamlProject
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&yp); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	p := &domain.Project{
		Version:   yp.Version,
		Topology:  yp.Topology,
		Protocols: yp.Protocols,
		Mutes:     make(map[domain.ProtocolID]domain.MuteList),
	}

	for _, ym := range yp.Mutes {
		ml := make(domain.MuteList)
		for k, addrs := range ym.Kinds {
			kind, err := domain.ParseProcessorKind(k)
			if err != nil {
				return nil, fmt.Errorf("mutes of %s: %w", ym.Protocol, err)
			}
			ml[kind] = append(ml[kind], addrs...)
		}
		p.Mutes[domain.ProtocolID(ym.Protocol)] = ml
	}

	// Convert entities, numbering the ones without an id
	next := uint32(0)
	for _, ye := range yp.Entities {
		if ye.ID > next {
			next = ye.ID
		}
	}
	for _, ye := range yp.Entities {
		kind, err := domain.ParseProcessorKind(ye.Kind)
		if err != nil {
			return nil, err
		}
		id := ye.ID
		if id == 0 {
			next++
			id = next
		}
		p.Entities = append(p.Entities, domain.Entity{
			ID:       domain.ProcessorID(id),
			Kind:     kind,
			Address:  ye.Address,
			ComsMode: domain.ParseComsMode(ye.ComsMode),
			Name:     ye.Name,
			Values:   ye.Values,
		})
	}

	if err := validate(p); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	return p, nil
}

// Export exports a project to YAML
func (c *YAMLCodec) Export(p *domain.Project, w io.Writer) error {
	yp := yamlProject{
		Version:   p.Version,
		Topology:  p.Topology,
		Protocols: p.Protocols,
	}

	ids := make([]string, 0, len(p.Mutes))
	for id := range p.Mutes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		ml := p.Mutes[domain.ProtocolID(id)]
		if len(ml) == 0 {
			continue
		}
		ym := yamlMute{Protocol: id, Kinds: make(map[string][]int, len(ml))}
		for kind, addrs := range ml {
			ym.Kinds[string(kind)] = addrs
		}
		yp.Mutes = append(yp.Mutes, ym)
	}

	for _, e := range p.Entities {
		yp.Entities = append(yp.Entities, yamlEntity{
			ID:       uint32(e.ID),
			Kind:     string(e.Kind),
			Address:  e.Address,
			ComsMode: e.ComsMode.String(),
			Name:     e.Name,
			Values:   e.Values,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(yp); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
