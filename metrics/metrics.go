// Package metrics tracks per-request gateway statistics: request and
// error counts, a capped latency ring buffer, and per-subgraph call
// counters. A snapshot of the current window is flushed to the shared
// tier once a minute so every gateway instance can see fleet history.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxLatencySamples bounds the in-memory ring buffer; beyond it the
// oldest samples are dropped.
const maxLatencySamples = 1000

// Snapshot is one window of gateway activity, as reported by Current
// and as flushed to shared history.
type Snapshot struct {
	Requests       int64            `json:"requests"`
	Errors         int64            `json:"errors"`
	AverageLatency float64          `json:"averageLatencyMs"`
	Subgraphs      map[string]int64 `json:"subgraphs"`
	Timestamp      int64            `json:"timestamp"`
}

// Collector accumulates request metrics. Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	requests  int64
	errors    int64
	latencies []time.Duration
	next      int
	subgraphs map[string]int64

	requestCount metric.Int64Counter
	errorCount   metric.Int64Counter
	latencyHist  metric.Float64Histogram
}

// NewCollector builds a collector that also forwards observations to
// the given meter.
func NewCollector(meter metric.Meter) (*Collector, error) {
	requestCount, err := meter.Int64Counter(
		"gateway.requests.total",
		metric.WithDescription("Total GraphQL requests handled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"gateway.requests.errors",
		metric.WithDescription("GraphQL requests that produced errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	latencyHist, err := meter.Float64Histogram(
		"gateway.request.duration_ms",
		metric.WithDescription("Request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Collector{
		latencies:    make([]time.Duration, 0, maxLatencySamples),
		subgraphs:    make(map[string]int64),
		requestCount: requestCount,
		errorCount:   errorCount,
		latencyHist:  latencyHist,
	}, nil
}

// Record registers one completed request: its outcome, elapsed time,
// and the subgraphs it touched.
func (c *Collector) Record(ctx context.Context, elapsed time.Duration, failed bool, subgraphs []string) {
	c.mu.Lock()
	c.requests++
	if failed {
		c.errors++
	}
	if len(c.latencies) < maxLatencySamples {
		c.latencies = append(c.latencies, elapsed)
	} else {
		c.latencies[c.next] = elapsed
		c.next = (c.next + 1) % maxLatencySamples
	}
	for _, name := range subgraphs {
		c.subgraphs[name]++
	}
	c.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(subgraphs))
	for _, name := range subgraphs {
		attrs = append(attrs, attribute.String("subgraph", name))
	}
	opt := metric.WithAttributes(attrs...)
	c.requestCount.Add(ctx, 1, opt)
	if failed {
		c.errorCount.Add(ctx, 1, opt)
	}
	c.latencyHist.Record(ctx, float64(elapsed.Milliseconds()), opt)
}

// Current returns the live counters without resetting them.
func (c *Collector) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// snapshotAndReset returns the current window and starts a new one.
func (c *Collector) snapshotAndReset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshotLocked()
	c.requests = 0
	c.errors = 0
	c.latencies = c.latencies[:0]
	c.next = 0
	c.subgraphs = make(map[string]int64)
	return s
}

func (c *Collector) snapshotLocked() Snapshot {
	s := Snapshot{
		Requests:  c.requests,
		Errors:    c.errors,
		Subgraphs: make(map[string]int64, len(c.subgraphs)),
		Timestamp: time.Now().Unix(),
	}
	for name, n := range c.subgraphs {
		s.Subgraphs[name] = n
	}
	if len(c.latencies) > 0 {
		var total time.Duration
		for _, d := range c.latencies {
			total += d
		}
		s.AverageLatency = float64(total.Milliseconds()) / float64(len(c.latencies))
	}
	return s
}
