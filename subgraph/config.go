package subgraph

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Sentinel errors for subgraph configuration and requests.
var (
	ErrNoSubgraphs   = errors.New("subgraph: no subgraphs configured")
	ErrUnknownName   = errors.New("subgraph: unknown subgraph name")
	ErrUpstreamError = errors.New("subgraph: upstream returned an error status")
)

// Config describes one independently deployed backend service whose
// schema is composed into the gateway. Static, loaded at startup.
type Config struct {
	// Name uniquely identifies the subgraph.
	Name string `mapstructure:"name" json:"name"`

	// URL is the subgraph's GraphQL endpoint.
	URL string `mapstructure:"url" json:"url"`

	// HealthCheckURL returns 2xx when the subgraph is ready.
	HealthCheckURL string `mapstructure:"healthCheckUrl" json:"healthCheckUrl"`

	// AuthRequired marks subgraphs that reject anonymous callers.
	AuthRequired bool `mapstructure:"authRequired" json:"authRequired"`

	// Timeout bounds each request attempt.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// Retries is the number of additional attempts after a transport
	// failure. Application errors are never retried.
	Retries int `mapstructure:"retries" json:"retries"`
}

// Validate checks the config for usable values and applies defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("subgraph: config has empty name")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("subgraph %s: invalid url %q: %w", c.Name, c.URL, err)
	}
	if c.HealthCheckURL != "" {
		if _, err := url.ParseRequestURI(c.HealthCheckURL); err != nil {
			return fmt.Errorf("subgraph %s: invalid health url %q: %w", c.Name, c.HealthCheckURL, err)
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	return nil
}

// ValidateAll validates a full subgraph set and rejects duplicates.
func ValidateAll(configs []*Config) error {
	if len(configs) == 0 {
		return ErrNoSubgraphs
	}
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cfg.Name]; dup {
			return fmt.Errorf("subgraph: duplicate name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}
	return nil
}
