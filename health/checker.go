package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultCheckTimeout is the hard per-check timeout.
const DefaultCheckTimeout = 5 * time.Second

// Checker performs a single bounded health probe against a URL.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - A check never panics and never blocks past its timeout.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

// NewChecker creates a checker with the given per-check timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Check issues a cancellable GET against the health URL. A 2xx response
// is healthy; a timeout, transport error, or any other status is not.
func (c *Checker) Check(ctx context.Context, url string) Check {
	start := time.Now()

	if url == "" {
		return UnhealthyCheck(0, ErrNoHealthURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return UnhealthyCheck(time.Since(start), err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return UnhealthyCheck(time.Since(start), ErrCheckTimeout)
		}
		return UnhealthyCheck(time.Since(start), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UnhealthyCheck(time.Since(start),
			fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
	}
	return HealthyCheck(time.Since(start))
}
