package bridging

import (
	"gopkg.in/yaml.v3"

	"mixbridge/internal/domain"
)

// LivenessFunc receives protocol session state changes from the engine
type LivenessFunc func(protocol domain.ProtocolID, state domain.LivenessState)

// MessageFunc receives inbound parameter updates from an endpoint session
type MessageFunc func(protocol domain.ProtocolID, msg domain.Message)

// Engine is the surface the core needs from the bridging engine. Send and
// ApplyConfig are fire-and-forget: the result is whether the engine accepted
// the hand-off, not a round trip.
type Engine interface {
	Send(protocol domain.ProtocolID, msg domain.Message) bool
	ApplyConfig(doc *yaml.Node) bool
	CurrentConfig() *yaml.Node
	Subscribe(fn LivenessFunc)
	OnMessage(fn MessageFunc)
	Start() error
	Stop() error
}
