package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/graphgate/cache"
)

const (
	// historyKey is the shared-tier list holding flushed snapshots.
	historyKey = "gateway:metrics"

	// historyCap keeps 24 hours of history at one-minute resolution.
	historyCap = 1440

	// DefaultFlushInterval is how often a snapshot is pushed.
	DefaultFlushInterval = time.Minute

	flushTimeout = 5 * time.Second
)

// Flusher periodically pushes collector snapshots onto the shared-tier
// history list and resets the in-memory window. Flush failures are
// logged and the snapshot is dropped; shared history is best effort.
type Flusher struct {
	collector *Collector
	store     cache.Store
	interval  time.Duration
	logger    *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewFlusher builds a flusher. A non-positive interval falls back to
// the default.
func NewFlusher(collector *Collector, store cache.Store, interval time.Duration, logger *zap.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		collector: collector,
		store:     store,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the flush loop until Stop is called or ctx is cancelled.
func (f *Flusher) Start(ctx context.Context) {
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.flush(ctx)
			case <-f.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	<-f.done
}

func (f *Flusher) flush(ctx context.Context) {
	snap := f.collector.snapshotAndReset()

	payload, err := json.Marshal(snap)
	if err != nil {
		f.logger.Error("marshal metrics snapshot", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := f.store.PushCapped(ctx, historyKey, payload, historyCap); err != nil {
		f.logger.Warn("push metrics snapshot to shared tier", zap.Error(err))
	}
}
