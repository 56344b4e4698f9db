// Package config loads and validates the gateway's static configuration.
// The file is read once at startup; nothing here is reloadable.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Static    StaticConfig     `yaml:"static"`
	Auth      AuthConfig       `yaml:"auth"`
	RateLimit RateLimitBackend `yaml:"rate_limit"`
	Routes    []RouteConfig    `yaml:"routes"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	LogLevel                 string   `yaml:"log_level"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	MaxHeaderBytes           int      `yaml:"max_header_bytes"`
	MaxBodyBytes             int64    `yaml:"max_body_bytes"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
}

// UpstreamConfig bounds the outbound transport shared by all proxy
// routes. ResponseHeaderTimeout is the per-request time-to-first-byte
// budget; FlushIntervalMs controls response streaming (-1 flushes every
// write, the right setting for SSE).
type UpstreamConfig struct {
	DialTimeoutSeconds           int `yaml:"dial_timeout_seconds"`
	TLSHandshakeTimeoutSeconds   int `yaml:"tls_handshake_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `yaml:"response_header_timeout_seconds"`
	IdleConnTimeoutSeconds       int `yaml:"idle_conn_timeout_seconds"`
	MaxIdleConns                 int `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost          int `yaml:"max_idle_conns_per_host"`
	FlushIntervalMs              int `yaml:"flush_interval_ms"`
}

// StaticConfig, when Dir is set, installs the built-in SPA asset server
// as the default (empty-prefix) route.
type StaticConfig struct {
	Dir   string `yaml:"dir"`
	Index string `yaml:"index"`
}

type AuthConfig struct {
	Secret        string `yaml:"secret"`
	LeewaySeconds int    `yaml:"leeway_seconds"`
}

type RateLimitBackend struct {
	Backend string         `yaml:"backend"` // "redis" | "memory"
	Redis   RedisConfig    `yaml:"redis"`
	Memory  MemoryRLConfig `yaml:"memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MemoryRLConfig struct {
	TTLSeconds     int `yaml:"ttl_seconds"`
	CleanupSeconds int `yaml:"cleanup_seconds"`
}

type RouteConfig struct {
	Name           string              `yaml:"name"`
	Match          MatchConfig         `yaml:"match"`
	Upstream       string              `yaml:"upstream"`
	StripPrefix    string              `yaml:"strip_prefix"`
	AuthRequired   bool                `yaml:"auth_required"`
	RateLimit      RouteRLConfig       `yaml:"rate_limit"`
	Concurrency    RouteConcurrency    `yaml:"concurrency"`
	CircuitBreaker RouteCircuitBreaker `yaml:"circuit_breaker"`
}

type MatchConfig struct {
	PathPrefix string `yaml:"path_prefix"`
	Default    bool   `yaml:"default"` // empty-prefix route; matches everything last
}

type RouteRLConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   float64 `yaml:"burst"`
	Scope   string  `yaml:"scope"` // "user" | "ip"
}

type RouteConcurrency struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

type RouteCircuitBreaker struct {
	Enabled             bool `yaml:"enabled"`
	FailureThreshold    int  `yaml:"failure_threshold"`
	OpenSeconds         int  `yaml:"open_seconds"`
	HalfOpenMaxInFlight int  `yaml:"half_open_max_in_flight"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 32 << 20 // media uploads pass through the gateway
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}

	if cfg.Upstream.DialTimeoutSeconds == 0 {
		cfg.Upstream.DialTimeoutSeconds = 3
	}
	if cfg.Upstream.TLSHandshakeTimeoutSeconds == 0 {
		cfg.Upstream.TLSHandshakeTimeoutSeconds = 5
	}
	if cfg.Upstream.ResponseHeaderTimeoutSeconds == 0 {
		cfg.Upstream.ResponseHeaderTimeoutSeconds = 15
	}
	if cfg.Upstream.IdleConnTimeoutSeconds == 0 {
		cfg.Upstream.IdleConnTimeoutSeconds = 90
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = 128
	}
	if cfg.Upstream.MaxIdleConnsPerHost == 0 {
		cfg.Upstream.MaxIdleConnsPerHost = 32
	}
	if cfg.Upstream.FlushIntervalMs == 0 {
		cfg.Upstream.FlushIntervalMs = -1
	}

	if cfg.Static.Index == "" {
		cfg.Static.Index = "index.html"
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Memory.TTLSeconds == 0 {
		cfg.RateLimit.Memory.TTLSeconds = 300
	}
	if cfg.RateLimit.Memory.CleanupSeconds == 0 {
		cfg.RateLimit.Memory.CleanupSeconds = 60
	}

	if cfg.Auth.LeewaySeconds == 0 {
		cfg.Auth.LeewaySeconds = 30
	}
}

func Validate(cfg *Config) error {
	if len(cfg.Routes) == 0 && cfg.Static.Dir == "" {
		return errors.New("no routes configured")
	}

	seenNames := map[string]struct{}{}
	seenPrefixes := map[string]string{}
	defaults := 0
	authNeeded := false

	for i, r := range cfg.Routes {
		idx := fmt.Sprintf("routes[%d]", i)

		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", idx)
		}
		if _, ok := seenNames[name]; ok {
			return fmt.Errorf("duplicate route name %q", name)
		}
		seenNames[name] = struct{}{}

		pp := strings.TrimSpace(r.Match.PathPrefix)
		switch {
		case r.Match.Default:
			if pp != "" {
				return fmt.Errorf("%s: default route must not set path_prefix", idx)
			}
			defaults++
		case pp == "" || !strings.HasPrefix(pp, "/"):
			return fmt.Errorf("%s.match.path_prefix must start with '/'", idx)
		}
		if prev, ok := seenPrefixes[pp]; ok {
			return fmt.Errorf("duplicate path prefix %q (routes %q and %q)", pp, prev, name)
		}
		seenPrefixes[pp] = name

		if r.Upstream == "" {
			return fmt.Errorf("%s.upstream is required", idx)
		}
		if u, err := url.Parse(r.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s.upstream must be an absolute url", idx)
		}
		if r.StripPrefix != "" && !strings.HasPrefix(r.StripPrefix, "/") {
			return fmt.Errorf("%s.strip_prefix must start with '/' if set", idx)
		}

		if r.AuthRequired {
			authNeeded = true
		}

		if r.RateLimit.Enabled {
			if r.RateLimit.RPS <= 0 || r.RateLimit.Burst <= 0 {
				return fmt.Errorf("%s.rate_limit rps and burst must be > 0 when enabled", idx)
			}
			s := strings.ToLower(strings.TrimSpace(r.RateLimit.Scope))
			if s != "ip" && s != "user" {
				return fmt.Errorf("%s.rate_limit.scope must be 'ip' or 'user'", idx)
			}
		}
		if r.Concurrency.MaxInFlight < 0 {
			return fmt.Errorf("%s.concurrency.max_in_flight cannot be negative", idx)
		}
		if r.CircuitBreaker.Enabled {
			if r.CircuitBreaker.FailureThreshold <= 0 {
				return fmt.Errorf("%s.circuit_breaker.failure_threshold must be > 0", idx)
			}
			if r.CircuitBreaker.OpenSeconds <= 0 {
				return fmt.Errorf("%s.circuit_breaker.open_seconds must be > 0", idx)
			}
		}
	}

	if cfg.Static.Dir != "" {
		if _, ok := seenPrefixes[""]; ok {
			return errors.New("static.dir conflicts with a default route; configure one or the other")
		}
		defaults++
	}
	if defaults > 1 {
		return errors.New("at most one default route is allowed")
	}

	if authNeeded && strings.TrimSpace(cfg.Auth.Secret) == "" {
		return errors.New("auth.secret is required when any route sets auth_required")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if backend != "redis" && backend != "memory" {
		return errors.New("rate_limit.backend must be 'redis' or 'memory'")
	}
	if backend == "redis" && strings.TrimSpace(cfg.RateLimit.Redis.Addr) == "" {
		return errors.New("rate_limit.redis.addr is required when backend is redis")
	}
	return nil
}
