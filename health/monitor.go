package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/subgraph"
)

// DefaultInterval is the re-evaluation period for every subgraph.
const DefaultInterval = 30 * time.Second

// Monitor owns the per-subgraph health state machine
// (UNKNOWN -> {HEALTHY, UNHEALTHY}), re-evaluated every interval. All
// subgraphs are checked concurrently and independently; check errors
// are recorded as status, never crash the loop.
type Monitor struct {
	subgraphs []*subgraph.Config
	checker   *Checker
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	state map[string]Check

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor for the given subgraphs. The publisher
// may be nil to disable cross-instance mirroring.
func NewMonitor(subgraphs []*subgraph.Config, checker *Checker, publisher Publisher, interval time.Duration, logger *zap.Logger) *Monitor {
	if checker == nil {
		checker = NewChecker(DefaultCheckTimeout)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		subgraphs: subgraphs,
		checker:   checker,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
		state:     make(map[string]Check, len(subgraphs)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the check loop on its own timer, fully decoupled from
// request handling. The first round runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		m.checkAll(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAll(ctx)
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// checkAll fans out one check per subgraph. Each goroutine is bounded
// by the checker's own timeout, so a stuck subgraph cannot stall the
// round for the others.
func (m *Monitor) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cfg := range m.subgraphs {
		wg.Add(1)
		go func(cfg *subgraph.Config) {
			defer wg.Done()

			check := m.checker.Check(ctx, cfg.HealthCheckURL)

			m.mu.Lock()
			prev := m.state[cfg.Name]
			m.state[cfg.Name] = check
			m.mu.Unlock()

			if prev.Status != check.Status {
				m.logger.Info("subgraph health changed",
					zap.String("subgraph", cfg.Name),
					zap.String("from", prev.Status.String()),
					zap.String("to", check.Status.String()),
					zap.String("error", check.Error))
			}

			if m.publisher != nil {
				if err := m.publisher.Publish(ctx, cfg.Name, check); err != nil {
					m.logger.Warn("health mirror publish failed",
						zap.String("subgraph", cfg.Name), zap.Error(err))
				}
			}
		}(cfg)
	}
	wg.Wait()
}

// Snapshot returns the aggregate health: overall is the AND of every
// known subgraph, and a subgraph is only known once a check completed.
// Read-only, no side effects.
func (m *Monitor) Snapshot() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make(map[string]Check, len(m.subgraphs))
	overall := true
	for _, cfg := range m.subgraphs {
		check, ok := m.state[cfg.Name]
		if !ok {
			check = Check{Status: StatusUnknown}
		}
		services[cfg.Name] = check
		if check.Status != StatusHealthy {
			overall = false
		}
	}
	return Summary{Overall: overall, Services: services}
}

// IsHealthy reports whether requests should be routed to the subgraph.
// Unknown subgraphs are routable: the gateway must not refuse traffic
// before the first check round completes.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	check, ok := m.state[name]
	if !ok {
		return true
	}
	return check.Status != StatusUnhealthy
}
