// Package cache implements the gateway's two-tier resolver cache.
//
// It provides deterministic cache-key derivation from resolver call shape
// (arguments, caller identity, operation name, selected output fields), a
// bounded per-process L1 tier, a Redis-compatible shared L2 tier with
// tag-based bulk invalidation, and stale-while-revalidate background
// refresh with single-flight deduplication.
package cache
