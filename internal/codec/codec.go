package codec

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"mixbridge/internal/domain"
)

// Importer interface for importing a project from various formats
type Importer interface {
	Parse(r io.Reader) (*domain.Project, error)
	Format() string
}

// Exporter interface for exporting a project to various formats
type Exporter interface {
	Export(p *domain.Project, w io.Writer) error
	Format() string
}

// Codec both imports and exports
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for a format name ("json", "yaml")
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// ForPath picks a codec by file extension, defaulting to YAML
func ForPath(path string) Codec {
	if c, err := ForFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return c
	}
	return NewYAMLCodec()
}

// validate checks an imported project before it reaches the core
func validate(p *domain.Project) error {
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Topology.Mode == "" {
		p.Topology.Mode = domain.TopologyDisabled
	}
	if p.Topology.Primary.ID == "" {
		p.Topology.Primary.ID = domain.EndpointPrimary
	}
	if p.Topology.Primary.Protocol == "" {
		p.Topology.Primary.Protocol = domain.ProtocolPrimary
	}
	if s := p.Topology.Secondary; s != nil {
		if s.ID == "" {
			s.ID = domain.EndpointSecondary
		}
		if s.Protocol == "" {
			s.Protocol = domain.ProtocolSecondary
		}
	}
	if err := p.Topology.Validate(); err != nil {
		return err
	}
	for _, e := range p.Entities {
		if !e.Kind.Valid() {
			return fmt.Errorf("entity %d: unknown kind %q", e.ID, e.Kind)
		}
		if e.Address < 1 {
			return fmt.Errorf("entity %d: invalid address %d", e.ID, e.Address)
		}
	}
	if p.Mutes == nil {
		p.Mutes = make(map[domain.ProtocolID]domain.MuteList)
	}
	p.Normalize()
	return nil
}
