// Package metrics instruments the routing core with Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mixbridge/internal/domain"
)

// Metrics holds every collector of the core
type Metrics struct {
	sends        *prometheus.CounterVec
	modeSwitches *prometheus.CounterVec
	muteUpdates  *prometheus.CounterVec
	inbound      *prometheus.CounterVec
	liveness     *prometheus.GaugeVec
	entities     *prometheus.GaugeVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// sends counts hand-offs to the engine by endpoint and result
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mixbridge_sends_total",
			Help: "Parameter writes handed to the engine by endpoint and result",
		}, []string{"endpoint", "result"}),

		modeSwitches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mixbridge_topology_switches_total",
			Help: "Topology mode switches by target mode and result",
		}, []string{"mode", "result"}),

		muteUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mixbridge_mute_updates_total",
			Help: "Mute updates by protocol and result",
		}, []string{"protocol", "result"}),

		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mixbridge_inbound_total",
			Help: "Inbound endpoint updates by endpoint and origin",
		}, []string{"endpoint", "origin"}),

		// liveness is 1 for the current state of each protocol session
		liveness: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mixbridge_protocol_liveness",
			Help: "Protocol session state (1 = current state)",
		}, []string{"protocol", "state"}),

		entities: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mixbridge_entities",
			Help: "Live entities by kind",
		}, []string{"kind"}),
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveSend records one per-endpoint send result
func (m *Metrics) ObserveSend(endpoint domain.EndpointID, ok bool) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(string(endpoint), result(ok)).Inc()
}

// ObserveModeSwitch records a topology switch attempt
func (m *Metrics) ObserveModeSwitch(mode domain.TopologyMode, ok bool) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(string(mode), result(ok)).Inc()
}

// ObserveMute records a mute update attempt
func (m *Metrics) ObserveMute(protocol domain.ProtocolID, ok bool) {
	if m == nil {
		return
	}
	m.muteUpdates.WithLabelValues(string(protocol), result(ok)).Inc()
}

// ObserveInbound records an inbound update and how it was classified
func (m *Metrics) ObserveInbound(endpoint domain.EndpointID, origin string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(string(endpoint), origin).Inc()
}

var livenessStates = []domain.LivenessState{
	domain.LivenessUnknown, domain.LivenessBound, domain.LivenessMaster,
	domain.LivenessSlave, domain.LivenessError,
}

// SetLiveness marks state as the current one for protocol
func (m *Metrics) SetLiveness(protocol domain.ProtocolID, state domain.LivenessState) {
	if m == nil {
		return
	}
	for _, s := range livenessStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.liveness.WithLabelValues(string(protocol), string(s)).Set(v)
	}
}

// SetEntities records the live entity count of kind
func (m *Metrics) SetEntities(kind domain.ProcessorKind, n int) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(string(kind)).Set(float64(n))
}
