package core

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventEntityCreated   EventType = "entity_created"
	EventEntityDestroyed EventType = "entity_destroyed"
	EventEntityUpdated   EventType = "entity_updated"
	EventTopologyChanged EventType = "topology_changed"
	EventEndpointChanged EventType = "endpoint_changed"
	EventMuteChanged     EventType = "mute_changed"
	EventLiveness        EventType = "liveness"
	EventInbound         EventType = "inbound"
	EventProjectRestored EventType = "project_restored"
)

// Event represents something that happened in the core
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus fans events out to runtime listeners. Publishing never blocks the
// owner context: a full subscriber channel drops the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
