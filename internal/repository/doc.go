// Package repository defines the persistence interface for the routing
// project: topology mode and active parallel endpoint, endpoint descriptors,
// bridging protocols with their mute lists, and the entity set with domain
// addresses.
//
// The sqlite subpackage implements it on modernc.org/sqlite in WAL mode.
// A save replaces everything in a single transaction so a crash never
// leaves a half-written project, and a save followed by a load returns
// an equal, normalized project.
package repository
