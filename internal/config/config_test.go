package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mixbridge/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Topology.Mode != string(domain.TopologyDisabled) {
		t.Errorf("Topology.Mode = %s, want disabled", cfg.Topology.Mode)
	}
	if cfg.Topology.Primary.Protocol != string(domain.ProtocolPrimary) {
		t.Errorf("Primary.Protocol = %s, want %s", cfg.Topology.Primary.Protocol, domain.ProtocolPrimary)
	}
	if cfg.Topology.Primary.Capacity != domain.DefaultCapacity {
		t.Errorf("Primary.Capacity = %d, want %d", cfg.Topology.Primary.Capacity, domain.DefaultCapacity)
	}
	if cfg.Tick.Duration() != DefaultTick {
		t.Errorf("Tick = %s, want %s", cfg.Tick.Duration(), DefaultTick)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
topology:
  mode: extend
  primary:
    host: 10.0.0.10
  secondary:
    host: 10.0.0.11
    capacity: 32
protocols:
  - id: osc-1
    type: Generic_OSC
    port: 50020
tick_interval: 250ms
log:
  level: debug
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tc, err := cfg.DomainTopology()
	if err != nil {
		t.Fatalf("DomainTopology() error: %v", err)
	}
	if tc.Mode != domain.TopologyExtend {
		t.Errorf("Mode = %s, want extend", tc.Mode)
	}
	if tc.Secondary == nil || tc.Secondary.Protocol != domain.ProtocolSecondary {
		t.Fatalf("Secondary = %+v, want default secondary protocol", tc.Secondary)
	}
	if tc.Secondary.Port != DefaultEndpointPort || tc.Secondary.Capacity != 32 {
		t.Errorf("Secondary = %+v", tc.Secondary)
	}
	if cfg.Tick.Duration() != 250*time.Millisecond {
		t.Errorf("Tick = %s, want 250ms", cfg.Tick.Duration())
	}

	specs := cfg.ProtocolSpecs()
	if len(specs) != 1 || specs[0].Type != domain.ProtocolTypeOSC {
		t.Errorf("ProtocolSpecs() = %+v", specs)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown mode", "topology:\n  mode: sideways\n", "sideways"},
		{"mode needs secondary", "topology:\n  mode: mirror\n", "secondary"},
		{"bad port", "topology:\n  primary:\n    port: 70000\n", "invalid port"},
		{"duplicate protocol", "protocols:\n  - {id: a, type: rttrpm}\n  - {id: a, type: rttrpm}\n", "duplicate"},
		{"protocol shadows endpoint", "protocols:\n  - {id: ds100-primary, type: generic_osc}\n", "endpoint session"},
		{"bad duration", "tick_interval: soon\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestParseModeNeedsSecondaryIsSentinel(t *testing.T) {
	_, err := Parse([]byte("topology:\n  mode: parallel\n"))
	if !errors.Is(err, domain.ErrNoSecondary) {
		t.Errorf("error = %v, want ErrNoSecondary", err)
	}
}

func TestProject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocols = []ProtocolConfig{{ID: "rttrpm-1", Type: "rttrpm"}, {ID: "midi-1", Type: "generic_midi"}}

	p, err := cfg.Project()
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	if len(p.Entities) != 0 {
		t.Errorf("Entities = %d, want 0", len(p.Entities))
	}
	if len(p.Protocols) != 2 || p.Protocols[0].ID != "midi-1" {
		t.Errorf("Protocols should be sorted, got %+v", p.Protocols)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Topology.Mode = string(domain.TopologyParallel)
	cfg.Topology.ActiveParallel = "secondary"
	cfg.Topology.Secondary = &EndpointConfig{Host: "10.0.0.11"}
	cfg.HTTP.Addr = ":9091"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, path, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if path != configPath {
		t.Errorf("path = %s, want %s", path, configPath)
	}
	if loaded.HTTP.Addr != ":9091" {
		t.Errorf("HTTP.Addr = %s, want :9091", loaded.HTTP.Addr)
	}

	tc, err := loaded.DomainTopology()
	if err != nil {
		t.Fatalf("DomainTopology() error: %v", err)
	}
	if tc.ActiveParallel != domain.EndpointSecondary {
		t.Errorf("ActiveParallel = %s, want secondary", tc.ActiveParallel)
	}
	if tc.Secondary == nil || tc.Secondary.Host != "10.0.0.11" {
		t.Errorf("Secondary = %+v", tc.Secondary)
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	cfg := DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	t.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	found := FindConfigPath()
	if found == "" {
		t.Error("FindConfigPath() should find config in working directory")
	}

	// explicit path that doesn't exist falls back
	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	found = FindConfigPath()
	if found == "" {
		t.Error("FindConfigPath() should fall back when env path doesn't exist")
	}

	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(explicit, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, explicit)
	if found := FindConfigPath(); found != explicit {
		t.Errorf("FindConfigPath() = %s, want %s", found, explicit)
	}
}

func TestSearchPathsOrder(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/x.yaml")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("HOME", "/home/op")

	paths := SearchPaths()
	want := []string{"/tmp/x.yaml", "", "/xdg/mixbridge/config.yaml", "/home/op/.config/mixbridge/config.yaml", "/etc/mixbridge/config.yaml"}
	if len(paths) != len(want) {
		t.Fatalf("SearchPaths() = %v", paths)
	}
	for i, w := range want {
		if w == "" {
			if filepath.Base(paths[i]) != ConfigFileName {
				t.Errorf("paths[%d] = %s, want working directory file", i, paths[i])
			}
			continue
		}
		if paths[i] != w {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], w)
		}
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML() error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("MarshalYAML() = %v, want 5m0s", marshaled)
	}
}
