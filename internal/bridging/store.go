package bridging

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mixbridge/internal/domain"
)

// Store is the typed adapter over the engine's configuration document. It
// belongs to the owner context.
type Store struct {
	engine   Engine
	logger   *zap.Logger
	liveness map[domain.ProtocolID]domain.LivenessState
	pushes   int
}

// NewStore creates a store backed by engine
func NewStore(engine Engine, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		engine:   engine,
		logger:   logger,
		liveness: make(map[domain.ProtocolID]domain.LivenessState),
	}
}

// Current returns a copy of the engine's current document
func (s *Store) Current() *yaml.Node {
	doc := CloneNode(s.engine.CurrentConfig())
	if doc == nil {
		return NewDocument()
	}
	return doc
}

// Apply pushes a whole document. Pushing a document identical to the
// current one is a no-op.
func (s *Store) Apply(doc *yaml.Node) error {
	same, err := s.sameAsCurrent(doc)
	if err != nil {
		return err
	}
	if same {
		return nil
	}
	return s.push(doc)
}

// Load decodes the managed sections of the current document
func (s *Store) Load() (Config, error) {
	return decode(s.Current())
}

// Mutate runs fn against the current typed config and pushes the result.
// Every call re-reads the document first, so two mutations in a row always
// observe each other. When fn leaves the config unchanged nothing is pushed;
// when fn fails or the engine rejects the push, nothing changes.
func (s *Store) Mutate(fn func(*Config) error) error {
	doc := s.Current()
	cur, err := decode(doc)
	if err != nil {
		return err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if reflect.DeepEqual(cur, next) {
		return nil
	}
	if err := merge(doc, next); err != nil {
		return err
	}
	return s.push(doc)
}

// Pushes returns how many documents were handed to the engine
func (s *Store) Pushes() int {
	return s.pushes
}

// OnLiveness registers fn with the engine. fn runs on the engine's
// goroutine; it must marshal onto the owner context.
func (s *Store) OnLiveness(fn LivenessFunc) {
	s.engine.Subscribe(fn)
}

// OnMessage registers fn for inbound endpoint traffic, with the same
// threading rule as OnLiveness
func (s *Store) OnMessage(fn MessageFunc) {
	s.engine.OnMessage(fn)
}

// RecordLiveness stores a state reported by the engine and reports whether
// it differs from the previous one. Owner context only.
func (s *Store) RecordLiveness(protocol domain.ProtocolID, state domain.LivenessState) bool {
	prev, ok := s.liveness[protocol]
	if ok && prev == state {
		return false
	}
	s.liveness[protocol] = state
	return true
}

// Liveness returns the last reported state of a protocol session
func (s *Store) Liveness(protocol domain.ProtocolID) domain.LivenessState {
	if st, ok := s.liveness[protocol]; ok {
		return st
	}
	return domain.LivenessUnknown
}

// HasProtocol reports whether a bridging protocol is configured
func (s *Store) HasProtocol(protocol domain.ProtocolID) (bool, error) {
	cfg, err := s.Load()
	if err != nil {
		return false, err
	}
	_, ok := cfg.Protocols[protocol]
	return ok, nil
}

// Send hands a message to the engine for one protocol session
func (s *Store) Send(protocol domain.ProtocolID, msg domain.Message) error {
	if !s.engine.Send(protocol, msg) {
		return fmt.Errorf("send to %s: %w", protocol, domain.ErrEngineRejected)
	}
	return nil
}

func (s *Store) push(doc *yaml.Node) error {
	if !s.engine.ApplyConfig(doc) {
		s.logger.Warn("engine rejected configuration document")
		return fmt.Errorf("apply config: %w", domain.ErrEngineRejected)
	}
	s.pushes++
	s.logger.Debug("configuration pushed", zap.Int("pushes", s.pushes))
	return nil
}

func (s *Store) sameAsCurrent(doc *yaml.Node) (bool, error) {
	want, err := FingerprintOf(doc)
	if err != nil {
		return false, err
	}
	have, err := FingerprintOf(s.engine.CurrentConfig())
	if err != nil {
		return false, err
	}
	return want == have, nil
}

func decode(doc *yaml.Node) (Config, error) {
	var cfg Config
	if doc == nil || isEmpty(doc) {
		return cfg, nil
	}
	if err := doc.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode engine document: %w", err)
	}
	return cfg, nil
}

func merge(doc *yaml.Node, cfg Config) error {
	if err := setSection(doc, SectionTopology, cfg.Topology); err != nil {
		return err
	}
	sections := []struct {
		key   string
		empty bool
		value any
	}{
		{SectionEndpoints, len(cfg.Endpoints) == 0, cfg.Endpoints},
		{SectionProtocols, len(cfg.Protocols) == 0, cfg.Protocols},
	}
	for _, sec := range sections {
		var err error
		if sec.empty {
			err = removeSection(doc, sec.key)
		} else {
			err = setSection(doc, sec.key, sec.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
