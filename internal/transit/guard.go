// Package transit suppresses the echo of a locally initiated write until the
// round trip settles.
//
// A kind enters InTransit when a local write starts and drops back to Idle on
// the next Tick. Tick is driven from outside at a fixed period; the guard has
// no timer of its own, so without ticks a kind stays in transit.
package transit

import "mixbridge/internal/domain"

// Origin classifies an inbound update
type Origin uint8

const (
	// OriginExternal is a genuinely external change, e.g. a fader moved on the device
	OriginExternal Origin = iota
	// OriginConfirmation is the endpoint acknowledging our own write
	OriginConfirmation
)

func (o Origin) String() string {
	if o == OriginConfirmation {
		return "confirmation"
	}
	return "external"
}

// Guard tracks which change kinds have a local write in flight
type Guard struct {
	inTransit domain.ChangeKind
	ticks     uint64
}

// New creates an idle guard
func New() *Guard {
	return &Guard{}
}

// Begin moves kinds to InTransit
func (g *Guard) Begin(kinds domain.ChangeKind) {
	g.inTransit |= kinds & domain.ChangeAll
}

// InTransit reports whether any of kinds has a local write in flight
func (g *Guard) InTransit(kinds domain.ChangeKind) bool {
	return g.inTransit&kinds != 0
}

// Tick returns every kind to Idle
func (g *Guard) Tick() {
	g.inTransit = 0
	g.ticks++
}

// Ticks returns how many times Tick has been called
func (g *Guard) Ticks() uint64 {
	return g.ticks
}

// Reset drops every guard without counting a tick
func (g *Guard) Reset() {
	g.inTransit = 0
}

// Classify decides how an inbound update of kind should be treated. Only
// traffic from the authoritative endpoint can confirm a write in flight.
func (g *Guard) Classify(kind domain.ChangeKind, authoritative bool) Origin {
	if authoritative && g.InTransit(kind) {
		return OriginConfirmation
	}
	return OriginExternal
}
