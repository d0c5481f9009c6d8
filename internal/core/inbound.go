package core

import (
	"fmt"

	"go.uber.org/zap"

	"mixbridge/internal/domain"
	"mixbridge/internal/transit"
)

// HandleInbound applies a parameter update received from the engine.
//
// Endpoint traffic is mapped back to the domain address space and always
// updates the stored value. Only the authoritative endpoint can confirm a
// write in transit; every other update is an external change marked for
// every observer.
//
// Traffic from any other bridging protocol carries domain addresses. It is
// dropped while the address is muted for that protocol and otherwise
// forwarded to the endpoint(s) like a local edit.
func (c *Core) HandleInbound(protocol domain.ProtocolID, msg domain.Message) error {
	if endpoint, ok := c.router.EndpointFor(protocol); ok {
		return c.handleEndpoint(endpoint, msg)
	}
	return c.handleProtocol(protocol, msg)
}

func (c *Core) handleEndpoint(endpoint domain.EndpointID, msg domain.Message) error {
	addr, err := c.router.ResolveInbound(endpoint, msg.Address)
	if err != nil {
		c.metrics.ObserveInbound(endpoint, "unrouted")
		return err
	}

	origin := c.guard.Classify(domain.ChangeParameterValue, c.router.Authoritative(endpoint))
	c.metrics.ObserveInbound(endpoint, origin.String())

	applied := c.applyValue(msg.Kind, addr, msg.Parameter, msg.Values)
	if applied == 0 {
		return fmt.Errorf("%s address %d: %w", msg.Kind, addr, domain.ErrUnknownEntity)
	}
	if origin == transit.OriginExternal {
		c.tracker.MarkChanged(domain.ObserverProtocol, domain.ChangeParameterValue)
		c.events.Publish(Event{Type: EventInbound, Payload: msg.WithAddress(addr)})
	}
	return nil
}

func (c *Core) handleProtocol(protocol domain.ProtocolID, msg domain.Message) error {
	muted, err := c.mutes.IsAddressMuted(protocol, msg.Kind, msg.Address)
	if err != nil {
		return err
	}
	if muted {
		c.logger.Debug("muted inbound",
			zap.String("protocol", string(protocol)),
			zap.String("kind", string(msg.Kind)),
			zap.Int("address", msg.Address))
		return nil
	}

	if c.applyValue(msg.Kind, msg.Address, msg.Parameter, msg.Values) == 0 {
		return fmt.Errorf("%s address %d: %w", msg.Kind, msg.Address, domain.ErrUnknownEntity)
	}
	c.tracker.MarkChanged(domain.ObserverProtocol, domain.ChangeParameterValue)
	c.events.Publish(Event{Type: EventInbound, Payload: msg})

	c.guard.Begin(domain.ChangeParameterValue)
	if _, err := c.router.Send(msg); err != nil {
		return fmt.Errorf("forward from %s: %w", protocol, err)
	}
	return nil
}

// applyValue stores values on every receiving entity at (kind, addr) and
// returns how many took it
func (c *Core) applyValue(kind domain.ProcessorKind, addr int, param string, values []float64) int {
	n := 0
	for _, id := range c.registry.FindByAddress(kind, addr) {
		e, err := c.registry.Get(id)
		if err != nil || !e.ComsMode.CanReceive() {
			continue
		}
		if err := c.registry.SetValue(id, param, values); err == nil {
			n++
		}
	}
	return n
}
