// Package repository defines the persistence contract of the temporal graph
// store.
//
// A backend stores three kinds of records: identity entities, immutable state
// snapshots and relationships with a [from, to) validity interval. Any engine
// able to keep labelled nodes and directed relationships with numeric from/to
// properties can implement Repository. Two implementations exist:
//
// - memory: maps guarded by a mutex, used in tests and for throwaway runs
// - sqlite: modernc.org/sqlite with WAL mode, for persistent history
//
// # Resilience
//
// Resilient wraps a backend opener with an explicit health check, reconnect
// and bounded retry around every call.
package repository
