// Package health tracks the availability of backend subgraphs.
//
// A Monitor polls every subgraph's health endpoint on a fixed interval,
// each check bounded by its own timeout so one unresponsive subgraph
// never delays the others. Results are kept in memory for routing
// decisions and mirrored into the shared cache tier with a short TTL so
// other gateway instances see near-real-time status.
package health
