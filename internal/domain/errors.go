package domain

import "errors"

var (
	// ErrInvalidAddress is returned for non-positive or out-of-range domain addresses
	ErrInvalidAddress = errors.New("invalid domain address")
	// ErrUnknownProtocol is returned for operations on an unconfigured protocol
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrUnknownEntity is returned for operations on a destroyed or nonexistent id
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrEngineRejected is returned when the bridging engine refuses a push or send
	ErrEngineRejected = errors.New("engine rejected")
	// ErrNoSecondary is returned when a topology needs a secondary endpoint that is not configured
	ErrNoSecondary = errors.New("secondary endpoint not configured")
)
