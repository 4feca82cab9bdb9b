// Package handler implements the read-only HTTP query API over the landscape.
//
// Every temporal endpoint takes a Unix-seconds `timestamp` query parameter,
// defaulting to the store clock, and graph and node search endpoints also
// take a `timeframe` in seconds during which returned entities must stay live.
//
// # Endpoints
//
//	GET /graph                      full graph
//	GET /graph/export?format=yaml   graph as a json or yaml attachment
//	GET /subgraph/{id}              nodes reachable from id
//	GET /nodes?key=value            nodes live through the window matching every pair
//	GET /nodes/{id}                 one node, identity and state merged
//	GET /nodes/{id}/predecessors
//	GET /nodes/{id}/successors
//	GET /healthz
//	GET /metrics                    Prometheus exposition
//
// Errors are returned as JSON with {error, details}: 400 for malformed
// parameters, 404 for unknown nodes, 503 when the store is unreachable.
package handler
