package cache

import (
	"sync/atomic"
	"time"
)

// counters holds the per-config operation counters. All fields are
// manipulated atomically; reads produce a point-in-time snapshot.
type counters struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	sets          atomic.Uint64
	deletes       atomic.Uint64
	invalidations atomic.Uint64
	errors        atomic.Uint64
	requests      atomic.Uint64
	latencyNanos  atomic.Uint64
}

func (c *counters) recordLatency(d time.Duration) {
	c.latencyNanos.Add(uint64(d.Nanoseconds()))
}

// Stats is a derived, side-effect-free snapshot of one config's counters.
type Stats struct {
	Hits           uint64        `json:"hits"`
	Misses         uint64        `json:"misses"`
	Sets           uint64        `json:"sets"`
	Deletes        uint64        `json:"deletes"`
	Invalidations  uint64        `json:"invalidations"`
	Errors         uint64        `json:"errors"`
	TotalRequests  uint64        `json:"totalRequests"`
	AverageLatency time.Duration `json:"averageLatency"`
	HitRate        float64       `json:"hitRate"`
	ErrorRate      float64       `json:"errorRate"`
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Deletes:       c.deletes.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
		TotalRequests: c.requests.Load(),
	}
	if s.TotalRequests > 0 {
		s.AverageLatency = time.Duration(c.latencyNanos.Load() / s.TotalRequests)
		s.ErrorRate = float64(s.Errors) / float64(s.TotalRequests)
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}
