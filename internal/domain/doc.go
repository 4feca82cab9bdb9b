// Package domain defines the core types of the landscape: identity entities,
// versioned state snapshots, interval-valid relationships and the flattened
// graph returned by queries.
//
// # Temporal model
//
// An identity entity never changes once created. Mutable attributes live in
// state snapshots, each attached to its identity by a STATE relationship that
// carries a validity interval [From, To). A relationship whose To equals EOT is
// open. Deleting a relationship sets To; nothing is ever physically removed,
// so the full history of the topology can be replayed at any instant.
//
// # Windows
//
// Queries take a Window {At, Duration}. A relationship is live through the
// window when From <= At and To > At+Duration.
//
// # Design Principles
//
// - Immutable value objects where possible
// - No database or external dependencies
// - Pure domain logic without infrastructure concerns
package domain
