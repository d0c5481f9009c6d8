// Package config loads the mixbridge configuration file.
//
// The file describes the endpoints, the initial topology, the bridging
// protocols and the process settings (tick period, database, logging,
// HTTP). Live routing state is persisted separately in the database; the
// file only seeds it.
//
// Config file locations are listed by SearchPaths.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mixbridge/internal/domain"
)

const (
	// DefaultTick is the default period of the transit guard tick
	DefaultTick = 100 * time.Millisecond
	// DefaultDatabasePath is where the project database lives by default
	DefaultDatabasePath = "./mixbridge.db"
	// DefaultEndpointPort is the OSC control port of a DS100 class device
	DefaultEndpointPort = 50010
	// DefaultProbeTimeout bounds one reachability probe
	DefaultProbeTimeout = 10 * time.Second
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes, defaults and validates a config document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Topology.Mode == "" {
		c.Topology.Mode = string(domain.TopologyDisabled)
	}
	c.Topology.Primary.applyDefaults(domain.ProtocolPrimary)
	if c.Topology.Secondary != nil {
		c.Topology.Secondary.applyDefaults(domain.ProtocolSecondary)
	}
	if c.Tick == 0 {
		c.Tick = Duration(DefaultTick)
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(DefaultProbeTimeout)
	}
	if len(c.Probe.Ports) == 0 {
		c.Probe.Ports = []int{DefaultEndpointPort}
	}
}

func (e *EndpointConfig) applyDefaults(protocol domain.ProtocolID) {
	if e.Protocol == "" {
		e.Protocol = string(protocol)
	}
	if e.Port == 0 {
		e.Port = DefaultEndpointPort
	}
	if e.Capacity == 0 {
		e.Capacity = domain.DefaultCapacity
	}
}

// Validate checks the settings that the core would otherwise reject later
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.DomainTopology(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Protocols))
	for i, p := range c.Protocols {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("protocols[%d]: missing id", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("protocols[%d]: duplicate id %q", i, p.ID))
		case p.ID == c.Topology.Primary.Protocol || (c.Topology.Secondary != nil && p.ID == c.Topology.Secondary.Protocol):
			errs = append(errs, fmt.Errorf("protocols[%d]: id %q is an endpoint session", i, p.ID))
		}
		seen[p.ID] = true
		if p.Port < 0 || p.Port > 65535 {
			errs = append(errs, fmt.Errorf("protocols[%d]: invalid port %d", i, p.Port))
		}
	}
	if c.Tick.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DomainTopology converts the topology section to the routing configuration
func (c *Config) DomainTopology() (domain.TopologyConfig, error) {
	mode, err := domain.ParseTopologyMode(c.Topology.Mode)
	if err != nil {
		return domain.TopologyConfig{}, err
	}
	tc := domain.TopologyConfig{
		Mode:    mode,
		Primary: c.Topology.Primary.endpoint(domain.EndpointPrimary),
	}
	if c.Topology.Secondary != nil {
		sec := c.Topology.Secondary.endpoint(domain.EndpointSecondary)
		tc.Secondary = &sec
	}
	if c.Topology.ActiveParallel != "" {
		tc.ActiveParallel, err = domain.ParseEndpointID(c.Topology.ActiveParallel)
		if err != nil {
			return domain.TopologyConfig{}, err
		}
	}
	if err := checkPort(tc.Primary); err != nil {
		return domain.TopologyConfig{}, err
	}
	if tc.Secondary != nil {
		if err := checkPort(*tc.Secondary); err != nil {
			return domain.TopologyConfig{}, err
		}
	}
	if err := tc.Validate(); err != nil {
		return domain.TopologyConfig{}, err
	}
	return tc, nil
}

func checkPort(ep domain.Endpoint) error {
	if ep.Port < 1 || ep.Port > 65535 {
		return fmt.Errorf("%s endpoint: invalid port %d", ep.ID, ep.Port)
	}
	return nil
}

func (e EndpointConfig) endpoint(id domain.EndpointID) domain.Endpoint {
	return domain.Endpoint{
		ID:       id,
		Protocol: domain.ProtocolID(e.Protocol),
		Host:     e.Host,
		Port:     e.Port,
		Capacity: e.Capacity,
	}
}

// ProtocolSpecs returns the declared bridging protocols
func (c *Config) ProtocolSpecs() []domain.ProtocolSpec {
	specs := make([]domain.ProtocolSpec, 0, len(c.Protocols))
	for _, p := range c.Protocols {
		specs = append(specs, domain.ProtocolSpec{
			ID:   domain.ProtocolID(p.ID),
			Type: domain.ProtocolType(strings.ToLower(p.Type)),
			Host: p.Host,
			Port: p.Port,
		})
	}
	return specs
}

// Project builds the initial project the file describes: the topology and
// protocols, with no entities and no mutes
func (c *Config) Project() (*domain.Project, error) {
	tc, err := c.DomainTopology()
	if err != nil {
		return nil, err
	}
	p := domain.NewProject()
	p.Topology = tc
	p.Protocols = c.ProtocolSpecs()
	p.Normalize()
	return p, nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Topology: %s, primary %s:%d", c.Topology.Mode, c.Topology.Primary.Host, c.Topology.Primary.Port)
	if s := c.Topology.Secondary; s != nil {
		summary += fmt.Sprintf(", secondary %s:%d", s.Host, s.Port)
	}
	summary += fmt.Sprintf("\nTick: %s, Database: %s, Log: %s\n", c.Tick.Duration(), c.Database.Path, c.Log.Level)
	summary += fmt.Sprintf("Protocols (%d):", len(c.Protocols))
	for _, p := range c.Protocols {
		summary += fmt.Sprintf(" %s(%s)", p.ID, p.Type)
	}
	return summary
}
