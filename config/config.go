// Package config loads gateway configuration from a YAML file with
// environment overrides. Secret-bearing fields support strict ${ENV}
// expansion so deployments never bake credentials into files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/graphgate/cache"
	"github.com/jonwraymond/graphgate/gateway"
	"github.com/jonwraymond/graphgate/subgraph"
)

// Config is the full gateway configuration tree.
type Config struct {
	Server    Server                   `mapstructure:"server"`
	Redis     Redis                    `mapstructure:"redis"`
	Auth      Auth                     `mapstructure:"auth"`
	RateLimit RateLimit                `mapstructure:"rateLimit"`
	Health    Health                   `mapstructure:"health"`
	Metrics   Metrics                  `mapstructure:"metrics"`
	Cache     map[string]*cache.Config `mapstructure:"cache"`
	Subgraphs []*subgraph.Config       `mapstructure:"subgraphs"`
	Routes    map[string]gateway.Route `mapstructure:"routes"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	Version        string   `mapstructure:"version"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// Production reports whether the gateway runs with production
// hardening (error redaction, no introspection).
func (s Server) Production() bool {
	return s.Environment == "production"
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Redis holds shared-tier connection settings. Password supports
// strict ${ENV} expansion.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

// Auth holds bearer-token verification settings. JWTSecret supports
// strict ${ENV} expansion; empty disables token decoding entirely.
type Auth struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// RateLimit configures the sliding-window limiter.
type RateLimit struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Health configures the subgraph health monitor.
type Health struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Metrics configures the shared-tier metrics flusher.
type Metrics struct {
	FlushInterval time.Duration `mapstructure:"flushInterval"`
}

// Load reads configuration from path, falling back to ./config.yaml
// when path is empty. GRAPHGATE_* environment variables override file
// values (dots become underscores: GRAPHGATE_SERVER_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	v.SetEnvPrefix("GRAPHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := expandSecrets(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Cache) == 0 {
		cfg.Cache = cache.DefaultConfigs()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.version", "dev")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.limit", 120)
	v.SetDefault("rateLimit.window", time.Minute)
	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.timeout", 5*time.Second)
	v.SetDefault("metrics.flushInterval", time.Minute)
}

func expandSecrets(cfg *Config) error {
	var err error
	if cfg.Auth.JWTSecret, err = ExpandEnvStrict(cfg.Auth.JWTSecret); err != nil {
		return fmt.Errorf("config: auth.jwtSecret: %w", err)
	}
	if cfg.Redis.Password, err = ExpandEnvStrict(cfg.Redis.Password); err != nil {
		return fmt.Errorf("config: redis.password: %w", err)
	}
	return nil
}

// Validate checks cross-references: every cache config must be usable,
// every route must target a configured subgraph, and a route's cache
// config must exist.
func (c *Config) Validate() error {
	// An empty subgraph list is allowed here so unit setups can run the
	// cache layers alone; main refuses to serve without subgraphs.
	if len(c.Subgraphs) > 0 {
		if err := subgraph.ValidateAll(c.Subgraphs); err != nil {
			return fmt.Errorf("config: subgraphs: %w", err)
		}
	}

	for key, cc := range c.Cache {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("config: cache %q: %w", key, err)
		}
	}

	names := make(map[string]bool, len(c.Subgraphs))
	for _, sg := range c.Subgraphs {
		names[sg.Name] = true
	}
	for field, route := range c.Routes {
		if !names[route.Subgraph] {
			return fmt.Errorf("config: route %q references unknown subgraph %q", field, route.Subgraph)
		}
		if route.CacheConfig != "" {
			if _, ok := c.Cache[route.CacheConfig]; !ok {
				return fmt.Errorf("config: route %q references unknown cache config %q", field, route.CacheConfig)
			}
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.Limit <= 0 {
		return fmt.Errorf("config: rateLimit.limit must be positive when enabled")
	}
	return nil
}
