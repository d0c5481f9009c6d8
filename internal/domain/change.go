package domain

import "strings"

// Observer is a logical source or consumer of change notifications
type Observer uint8

const (
	ObserverHost Observer = iota
	ObserverEditor
	ObserverOverview
	ObserverMultislider
	ObserverProtocol
	ObserverPersistence

	// NumObservers is the size of the observer table
	NumObservers
)

var observerNames = [NumObservers]string{
	"host", "editor", "overview", "multislider", "protocol", "persistence",
}

func (o Observer) String() string {
	if o < NumObservers {
		return observerNames[o]
	}
	return "unknown"
}

// Valid reports whether o indexes the observer table
func (o Observer) Valid() bool { return o < NumObservers }

// ChangeKind is a bit set of the kinds of data that can change
type ChangeKind uint32

const (
	ChangeNumProcessors ChangeKind = 1 << iota
	ChangeExtensionMode
	ChangeDomainAddress
	ChangeComsMode
	ChangeParameterValue
	ChangeMuteState
	ChangeEndpointConfig
	ChangeLiveness
	ChangeParallelSelection
	ChangeName

	// NumChangeKinds is the number of distinct single-bit kinds
	NumChangeKinds = iota
)

// ChangeAll covers every known kind
const ChangeAll ChangeKind = 1<<NumChangeKinds - 1

var changeKindNames = [NumChangeKinds]string{
	"num_processors", "extension_mode", "domain_address", "coms_mode",
	"parameter_value", "mute_state", "endpoint_config", "liveness",
	"parallel_selection", "name",
}

// Index returns the bit index of a single-bit kind, or -1
func (k ChangeKind) Index() int {
	if k == 0 || k&(k-1) != 0 || k&^ChangeAll != 0 {
		return -1
	}
	i := 0
	for k > 1 {
		k >>= 1
		i++
	}
	return i
}

// Each calls fn for every single-bit kind contained in k
func (k ChangeKind) Each(fn func(ChangeKind)) {
	for i := 0; i < NumChangeKinds; i++ {
		bit := ChangeKind(1) << i
		if k&bit != 0 {
			fn(bit)
		}
	}
}

func (k ChangeKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	k.Each(func(bit ChangeKind) {
		parts = append(parts, changeKindNames[bit.Index()])
	})
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}
