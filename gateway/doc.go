// Package gateway composes the federated graph: it parses incoming
// GraphQL operations, routes top-level fields to their owning
// subgraphs, fans subqueries out concurrently, and merges the results.
//
// Requests pass through optimistic bearer auth, request-id tagging and
// a sliding-window rate limiter before resolution. Individual routed
// fields may be wrapped with the resolver cache, and unhealthy
// subgraphs are taken out of rotation based on the health monitor's
// view. Errors surfaced to clients are sanitized in production and
// carry stable machine-readable codes.
package gateway
