// Package protocol owns the JSON-RPC 2.0 wire contract.
//
// Ownership boundary:
// - message model (request / response / notification)
// - structured error envelope
// - frame subpackage: Content-Length framing primitives
package protocol
