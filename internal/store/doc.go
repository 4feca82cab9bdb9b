// Package store implements the temporal graph store.
//
// Entities are created once and never rewritten; their mutable attributes are
// versioned as state snapshots attached through STATE relationships. Every
// relationship carries a [from, to) validity interval and is closed rather
// than removed, so point-in-time and window queries can replay the topology
// as it was at any past instant.
//
// Mutations never span more than one entity and its directly attached
// relationships. Missing input degrades to a logged no-op. The store does not
// serialize writers: callers deliver mutations for one entity in timestamp
// order.
package store
