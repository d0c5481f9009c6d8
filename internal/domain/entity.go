package domain

import (
	"fmt"
	"strings"
)

// ProcessorKind identifies which family of editable channel an entity belongs to
type ProcessorKind string

const (
	KindSoundObject  ProcessorKind = "sound_object"
	KindMatrixInput  ProcessorKind = "matrix_input"
	KindMatrixOutput ProcessorKind = "matrix_output"
)

// ProcessorKinds lists every kind in a stable order
var ProcessorKinds = []ProcessorKind{KindSoundObject, KindMatrixInput, KindMatrixOutput}

// ParseProcessorKind converts a string to ProcessorKind
func ParseProcessorKind(s string) (ProcessorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sound_object", "soundobject", "so":
		return KindSoundObject, nil
	case "matrix_input", "matrixinput", "mi":
		return KindMatrixInput, nil
	case "matrix_output", "matrixoutput", "mo":
		return KindMatrixOutput, nil
	default:
		return "", fmt.Errorf("unknown processor kind %q", s)
	}
}

// Valid reports whether k is one of the known kinds
func (k ProcessorKind) Valid() bool {
	switch k {
	case KindSoundObject, KindMatrixInput, KindMatrixOutput:
		return true
	}
	return false
}

// ProcessorID is the stable identity of an entity for the lifetime of its registry.
// It is unrelated to the entity's domain address.
type ProcessorID uint32

// InvalidProcessorID is never handed out by a registry
const InvalidProcessorID ProcessorID = 0

// ComsMode is a bit set describing whether an entity sends, receives, or both
type ComsMode uint8

const (
	ComsNone ComsMode = 0
	ComsTx   ComsMode = 1 << 0
	ComsRx   ComsMode = 1 << 1
	ComsTxRx          = ComsTx | ComsRx
)

// CanSend reports whether outgoing writes are allowed
func (m ComsMode) CanSend() bool { return m&ComsTx != 0 }

// CanReceive reports whether the entity takes part in endpoint subscriptions
func (m ComsMode) CanReceive() bool { return m&ComsRx != 0 }

func (m ComsMode) String() string {
	switch m {
	case ComsTx:
		return "tx"
	case ComsRx:
		return "rx"
	case ComsTxRx:
		return "txrx"
	default:
		return "none"
	}
}

// ParseComsMode converts a string to ComsMode, defaulting to ComsTxRx
func ParseComsMode(s string) ComsMode {
	switch strings.ToLower(s) {
	case "none", "off":
		return ComsNone
	case "tx":
		return ComsTx
	case "rx":
		return ComsRx
	default:
		return ComsTxRx
	}
}

// Entity is one editable channel (sound object, matrix input or matrix output)
type Entity struct {
	ID       ProcessorID          `json:"id" yaml:"id"`
	Kind     ProcessorKind        `json:"kind" yaml:"kind"`
	Address  int                  `json:"address" yaml:"address"`
	ComsMode ComsMode             `json:"coms_mode" yaml:"coms_mode"`
	Name     string               `json:"name,omitempty" yaml:"name,omitempty"`
	Values   map[string][]float64 `json:"values,omitempty" yaml:"values,omitempty"`
}

// Value returns the last known value of a parameter
func (e *Entity) Value(param string) ([]float64, bool) {
	if e.Values == nil {
		return nil, false
	}
	v, ok := e.Values[param]
	return v, ok
}

// SetValue stores a parameter value, initializing the map if needed
func (e *Entity) SetValue(param string, v []float64) {
	if e.Values == nil {
		e.Values = make(map[string][]float64)
	}
	e.Values[param] = append([]float64(nil), v...)
}

// Clone returns a deep copy safe to hand out of the owner context
func (e Entity) Clone() Entity {
	out := e
	if e.Values != nil {
		out.Values = make(map[string][]float64, len(e.Values))
		for k, v := range e.Values {
			out.Values[k] = append([]float64(nil), v...)
		}
	}
	return out
}

// ClampAddress clamps addr into [min, max]
func ClampAddress(addr, min, max int) int {
	if addr < min {
		return min
	}
	if addr > max {
		return max
	}
	return addr
}
