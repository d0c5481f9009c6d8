package domain

import (
	"fmt"
	"strings"
)

// TopologyMode is the configured relationship between the endpoints and the address space
type TopologyMode string

const (
	TopologyDisabled TopologyMode = "disabled" // primary only
	TopologyExtend   TopologyMode = "extend"   // secondary doubles the address space
	TopologyParallel TopologyMode = "parallel" // both endpoints receive every write
	TopologyMirror   TopologyMode = "mirror"   // hot standby, engine decides mastership
)

// ParseTopologyMode converts a string to TopologyMode
func ParseTopologyMode(s string) (TopologyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "off", "none":
		return TopologyDisabled, nil
	case "extend":
		return TopologyExtend, nil
	case "parallel":
		return TopologyParallel, nil
	case "mirror":
		return TopologyMirror, nil
	default:
		return "", fmt.Errorf("unknown topology mode %q", s)
	}
}

// UsesSecondary reports whether the mode needs a secondary endpoint
func (m TopologyMode) UsesSecondary() bool {
	return m == TopologyExtend || m == TopologyParallel || m == TopologyMirror
}

// Duplicates reports whether every write goes to both endpoints
func (m TopologyMode) Duplicates() bool {
	return m == TopologyParallel || m == TopologyMirror
}

// EndpointID names one of the two physical endpoints
type EndpointID string

const (
	EndpointPrimary   EndpointID = "primary"
	EndpointSecondary EndpointID = "secondary"
)

// ParseEndpointID converts a string to EndpointID
func ParseEndpointID(s string) (EndpointID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "first", "1":
		return EndpointPrimary, nil
	case "secondary", "second", "2":
		return EndpointSecondary, nil
	default:
		return "", fmt.Errorf("unknown endpoint %q", s)
	}
}

// DefaultCapacity is the native channel count of a DS100 class device per kind
const DefaultCapacity = 64

// Endpoint describes one physical control device
type Endpoint struct {
	ID       EndpointID `json:"id" yaml:"id"`
	Protocol ProtocolID `json:"protocol" yaml:"protocol"`
	Host     string     `json:"host" yaml:"host"`
	Port     int        `json:"port" yaml:"port"`
	Capacity int        `json:"capacity" yaml:"capacity"`
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// NativeCapacity returns the configured capacity or the default
func (e Endpoint) NativeCapacity() int {
	if e.Capacity <= 0 {
		return DefaultCapacity
	}
	return e.Capacity
}

// TopologyConfig is the complete routing configuration
type TopologyConfig struct {
	Mode           TopologyMode `json:"mode" yaml:"mode"`
	Primary        Endpoint     `json:"primary" yaml:"primary"`
	Secondary      *Endpoint    `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	ActiveParallel EndpointID   `json:"active_parallel,omitempty" yaml:"active_parallel,omitempty"`
}

// Endpoint returns the descriptor for id, if configured
func (c TopologyConfig) Endpoint(id EndpointID) (Endpoint, bool) {
	switch id {
	case EndpointPrimary:
		return c.Primary, true
	case EndpointSecondary:
		if c.Secondary != nil {
			return *c.Secondary, true
		}
	}
	return Endpoint{}, false
}

// Validate checks the mode against the configured endpoints
func (c TopologyConfig) Validate() error {
	if _, err := ParseTopologyMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode.UsesSecondary() && c.Secondary == nil {
		return fmt.Errorf("topology %s: %w", c.Mode, ErrNoSecondary)
	}
	if c.ActiveParallel != "" && c.ActiveParallel != EndpointPrimary && c.ActiveParallel != EndpointSecondary {
		return fmt.Errorf("unknown active parallel endpoint %q", c.ActiveParallel)
	}
	return nil
}

// Target is one resolved destination of a routed write
type Target struct {
	Endpoint EndpointID
	Address  int
}
