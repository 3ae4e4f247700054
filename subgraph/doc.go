// Package subgraph provides the outbound side of the gateway: static
// per-subgraph configuration and a DataSource proxy that attaches
// identity and tracing headers, retries transport failures, and keeps a
// coarse HTTP-response-level cache for idempotent queries beneath the
// resolver cache.
package subgraph
