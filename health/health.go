package health

import (
	"errors"
	"time"
)

// Sentinel errors for health checks.
var (
	ErrCheckTimeout = errors.New("health: check timeout")
	ErrBadStatus    = errors.New("health: non-2xx status")
	ErrNoHealthURL  = errors.New("health: no health check url configured")
)

// Status is the health state of one subgraph.
type Status int

const (
	// StatusUnknown means the subgraph has not been checked yet.
	StatusUnknown Status = iota
	// StatusHealthy means the last check returned 2xx.
	StatusHealthy
	// StatusUnhealthy means the last check failed.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Check is the outcome of one health check of one subgraph.
type Check struct {
	// Status is the resulting health state.
	Status Status `json:"-"`

	// Healthy mirrors Status for the wire format.
	Healthy bool `json:"healthy"`

	// CheckedAt is when the check completed.
	CheckedAt time.Time `json:"lastCheck"`

	// Duration is how long the check took.
	Duration time.Duration `json:"-"`

	// Error describes the failure, empty when healthy.
	Error string `json:"error,omitempty"`
}

// Healthy creates a passing check result.
func HealthyCheck(d time.Duration) Check {
	return Check{Status: StatusHealthy, Healthy: true, CheckedAt: time.Now(), Duration: d}
}

// UnhealthyCheck creates a failing check result.
func UnhealthyCheck(d time.Duration, err error) Check {
	c := Check{Status: StatusUnhealthy, CheckedAt: time.Now(), Duration: d}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// Summary is a read-only snapshot of every subgraph's health.
type Summary struct {
	// Overall is the AND of all known subgraphs.
	Overall bool `json:"overall"`

	// Services maps subgraph name to its latest check.
	Services map[string]Check `json:"services"`
}
