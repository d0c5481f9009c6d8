// Package bridging is the boundary adapter to the external bridging engine.
//
// The engine owns protocol sessions and a configuration document kept as a
// generic YAML tree. This package is the only place that touches that tree:
// the rest of the module works with the typed Config. Mutations are
// read-modify-write against the engine's current document and replace only
// the top-level sections this module manages (topology, endpoints,
// protocols); foreign sections pass through untouched.
//
// Engine callbacks (liveness, inbound messages) arrive on an engine-owned
// goroutine. Listeners registered here must marshal onto the owner context
// before touching any state.
package bridging
