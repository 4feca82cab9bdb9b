// Package service wires the landscape together.
//
// # Manager
//
// Manager builds the configured collectors and listeners, connects them
// through the hub, optionally flushes the store and runs every collector's
// Init in configuration order before the listeners start. A listener that
// stops with an error stops the manager.
//
// # GraphService
//
// GraphService is the read side used by the HTTP handlers and the CLI: point
// in time and windowed graph queries, node lookups, export to JSON or YAML,
// and replay of an exported graph into an empty store.
package service
