// Package engine provides Loopback, an in-process bridging engine. It holds
// the configuration document, records every send, and lets callers inject
// liveness changes and inbound traffic the way a real engine would report
// them from its own goroutine.
package engine

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mixbridge/internal/bridging"
	"mixbridge/internal/domain"
)

// Sent is one message accepted by the engine
type Sent struct {
	Protocol domain.ProtocolID
	Message  domain.Message
}

// Loopback implements bridging.Engine without any I/O
type Loopback struct {
	mu           sync.Mutex
	logger       *zap.Logger
	doc          *yaml.Node
	revision     int
	running      bool
	sent         []Sent
	failSend     map[domain.ProtocolID]bool
	rejectConfig bool
	liveness     []bridging.LivenessFunc
	inbound      []bridging.MessageFunc
}

var _ bridging.Engine = (*Loopback)(nil)

// NewLoopback creates an engine holding an empty document
func NewLoopback(logger *zap.Logger) *Loopback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loopback{
		logger:   logger,
		doc:      bridging.NewDocument(),
		failSend: make(map[domain.ProtocolID]bool),
	}
}

// Start marks the engine running
func (l *Loopback) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("loopback engine already running")
	}
	l.running = true
	l.logger.Info("loopback engine started")
	return nil
}

// Stop marks the engine stopped
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.logger.Info("loopback engine stopped")
	return nil
}

// Send records msg unless sends to protocol are set to fail
func (l *Loopback) Send(protocol domain.ProtocolID, msg domain.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSend[protocol] {
		l.logger.Debug("send refused", zap.String("protocol", string(protocol)))
		return false
	}
	l.sent = append(l.sent, Sent{Protocol: protocol, Message: msg.WithAddress(msg.Address)})
	l.logger.Debug("send",
		zap.String("protocol", string(protocol)),
		zap.String("kind", string(msg.Kind)),
		zap.Int("address", msg.Address),
		zap.String("parameter", msg.Parameter),
		zap.Float64s("values", msg.Values))
	return true
}

// ApplyConfig replaces the document. The revision only advances when the
// content actually changes.
func (l *Loopback) ApplyConfig(doc *yaml.Node) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rejectConfig {
		return false
	}
	want, err := bridging.FingerprintOf(doc)
	if err != nil {
		l.logger.Warn("unrenderable document", zap.Error(err))
		return false
	}
	have, err := bridging.FingerprintOf(l.doc)
	if err != nil {
		return false
	}
	if want != have {
		l.doc = bridging.CloneNode(doc)
		l.revision++
	}
	return true
}

// CurrentConfig returns a copy of the document
func (l *Loopback) CurrentConfig() *yaml.Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bridging.CloneNode(l.doc)
}

// Subscribe registers a liveness listener
func (l *Loopback) Subscribe(fn bridging.LivenessFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.liveness = append(l.liveness, fn)
}

// OnMessage registers an inbound traffic listener
func (l *Loopback) OnMessage(fn bridging.MessageFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, fn)
}

// SetLiveness reports a session state change to every listener
func (l *Loopback) SetLiveness(protocol domain.ProtocolID, state domain.LivenessState) {
	l.mu.Lock()
	listeners := append([]bridging.LivenessFunc(nil), l.liveness...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(protocol, state)
	}
}

// Receive delivers an inbound message as if it arrived from protocol
func (l *Loopback) Receive(protocol domain.ProtocolID, msg domain.Message) {
	l.mu.Lock()
	listeners := append([]bridging.MessageFunc(nil), l.inbound...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(protocol, msg)
	}
}

// FailSends makes every send to protocol fail (or succeed again)
func (l *Loopback) FailSends(protocol domain.ProtocolID, fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSend[protocol] = fail
}

// RejectConfig makes ApplyConfig fail (or succeed again)
func (l *Loopback) RejectConfig(reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectConfig = reject
}

// Sent returns every accepted message
func (l *Loopback) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sent(nil), l.sent...)
}

// SentTo returns the messages accepted for one protocol
func (l *Loopback) SentTo(protocol domain.ProtocolID) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Message
	for _, s := range l.sent {
		if s.Protocol == protocol {
			out = append(out, s.Message)
		}
	}
	return out
}

// ClearSent forgets recorded sends
func (l *Loopback) ClearSent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = nil
}

// Revision counts content-changing ApplyConfig calls
func (l *Loopback) Revision() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revision
}

// Running reports whether Start has been called without Stop
func (l *Loopback) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
