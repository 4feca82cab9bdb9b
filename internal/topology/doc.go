// Package topology turns one host's hwloc XML description into a directed
// property graph and commits it to the temporal store.
//
// The walk is depth-first and pre-order. Each visited <object> becomes a node
// named after the host, its sanitized type and a per-type counter; an
// INTERNAL edge links it to its parent before its children are visited.
// Builds carry all mutable walk state in a traversal value, so concurrent
// builds for different hosts share nothing.
//
// # Cache nesting
//
// Some hwloc versions encode the L1 data and instruction caches, which are
// siblings, as parent and child. The builder detects a cache directly below a
// cache of equal depth, moves it under the outer cache's parent and records
// the move so that the moved cache's own children are also linked from the
// outer cache.
package topology
