// Package domain defines the core types of the mixbridge routing core.
//
// # Entities
//
// An Entity is one editable channel: a sound object, matrix input or matrix
// output. It has a stable ProcessorID for the lifetime of its registry and a
// domain address that may change. Several entities may share an address.
//
// # Topology
//
// TopologyConfig describes one or two physical endpoints and how the domain
// address space maps onto them: Disabled (primary only), Extend (the
// secondary continues the address space after the primary's capacity),
// Parallel and Mirror (both endpoints receive every write).
//
// # Change Notification
//
// Observer and ChangeKind index the change tracker's per-observer dirty
// flags. A write marks every observer and records its source as the last
// writer of each kind.
//
// # Persistence
//
// Project is the persisted form of the routing state. Normalize sorts its
// lists so equal projects compare equal.
//
// # Errors
//
// Operations wrap the sentinels in errors.go with fmt.Errorf("...: %w") so
// callers can test them with errors.Is.
package domain
