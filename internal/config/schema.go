package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int              `yaml:"version"`
	Engine    EngineConfig     `yaml:"engine"`
	Topology  TopologyConfig   `yaml:"topology"`
	Protocols []ProtocolConfig `yaml:"protocols,omitempty"`
	Tick      Duration         `yaml:"tick_interval"`
	Database  DatabaseConfig   `yaml:"database"`
	Log       LogConfig        `yaml:"log"`
	HTTP      HTTPConfig       `yaml:"http"`
	Probe     ProbeConfig      `yaml:"probe"`
}

// EngineConfig holds bridging engine settings
type EngineConfig struct {
	// Document is an engine configuration file loaded before the core starts
	Document string `yaml:"document,omitempty"`
}

// TopologyConfig is the routing topology as written by the user
type TopologyConfig struct {
	Mode           string          `yaml:"mode"`
	ActiveParallel string          `yaml:"active_parallel,omitempty"`
	Primary        EndpointConfig  `yaml:"primary"`
	Secondary      *EndpointConfig `yaml:"secondary,omitempty"`
}

// EndpointConfig describes one control device
type EndpointConfig struct {
	Protocol string `yaml:"protocol,omitempty"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Capacity int    `yaml:"capacity,omitempty"`
}

// ProtocolConfig declares one bridging protocol session
type ProtocolConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development,omitempty"`
}

// HTTPConfig holds the listen address for /metrics and /events; empty disables
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ProbeConfig holds endpoint reachability probe settings
type ProbeConfig struct {
	Timeout Duration `yaml:"timeout"`
	Ports   []int    `yaml:"ports,omitempty"`
	TCP     bool     `yaml:"tcp,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
