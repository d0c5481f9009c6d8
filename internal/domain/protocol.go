package domain

// ProtocolID keys a protocol session in the bridging engine's configuration
type ProtocolID string

const (
	ProtocolPrimary   ProtocolID = "ds100-primary"
	ProtocolSecondary ProtocolID = "ds100-secondary"
)

// ProtocolType identifies the wire protocol of a bridging session
type ProtocolType string

const (
	ProtocolTypeDS100     ProtocolType = "ds100"
	ProtocolTypeOSC       ProtocolType = "generic_osc"
	ProtocolTypeRTTrPM    ProtocolType = "rttrpm"
	ProtocolTypeMIDI      ProtocolType = "generic_midi"
	ProtocolTypeYamahaOSC ProtocolType = "yamaha_osc"
	ProtocolTypeADMOSC    ProtocolType = "adm_osc"
	ProtocolTypeDiGiCo    ProtocolType = "digico"
	ProtocolTypeRemapOSC  ProtocolType = "remap_osc"
)

// LivenessState is the engine-reported state of a protocol session
type LivenessState string

const (
	LivenessUnknown LivenessState = "unknown"
	LivenessBound   LivenessState = "bound"
	LivenessMaster  LivenessState = "master"
	LivenessSlave   LivenessState = "slave"
	LivenessError   LivenessState = "error"
)

// Connected reports whether the session is up in any role
func (s LivenessState) Connected() bool {
	return s == LivenessBound || s == LivenessMaster || s == LivenessSlave
}

// Message is one discrete parameter write or update exchanged with the engine
type Message struct {
	Kind      ProcessorKind `json:"kind"`
	Address   int           `json:"address"`
	Parameter string        `json:"parameter"`
	Values    []float64     `json:"values"`
}

// WithAddress returns a copy of m addressed to addr
func (m Message) WithAddress(addr int) Message {
	m.Address = addr
	m.Values = append([]float64(nil), m.Values...)
	return m
}
