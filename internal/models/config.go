// Package models defines the configuration and response structures shared
// across the service. Configuration is hierarchical (server, rate limiting,
// logging, metrics, observability), serializable from YAML, and validated
// once at startup.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Counter store backends.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Config is the root configuration structure containing all service
// settings. It is constructed once at startup and treated as immutable
// afterwards.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Environment   string              `yaml:"environment" json:"environment"` // development, production, or other
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// WindowLimit is one fixed-window budget: at most Max requests per Window
// per bucket key.
type WindowLimit struct {
	Window time.Duration `yaml:"window" json:"window"`
	Max    int           `yaml:"max" json:"max"`
}

// ThrottleLimit configures the speed throttle: requests past DelayAfter
// within Window are delayed by DelayStep per excess request, capped at
// MaxDelay.
type ThrottleLimit struct {
	Window     time.Duration `yaml:"window" json:"window"`
	DelayAfter int           `yaml:"delay_after" json:"delay_after"`
	DelayStep  time.Duration `yaml:"delay_step" json:"delay_step"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
}

// RateLimitConfig holds every named policy budget plus the counter store
// selection. Counters are process-local with the memory store; the redis
// store shares them across instances.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Store           string        `yaml:"store" json:"store"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	Redis           RedisConfig   `yaml:"redis" json:"redis"`

	Global      WindowLimit `yaml:"global" json:"global"`
	Development WindowLimit `yaml:"development" json:"development"`
	Auth        WindowLimit `yaml:"auth" json:"auth"`
	API         WindowLimit `yaml:"api" json:"api"`
	User        WindowLimit `yaml:"user" json:"user"`
	Users       WindowLimit `yaml:"users" json:"users"`
	Admin       WindowLimit `yaml:"admin" json:"admin"`
	Public      WindowLimit `yaml:"public" json:"public"`

	Throttle ThrottleLimit `yaml:"throttle" json:"throttle"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // stdout or otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production defaults. The
// budgets mirror the API's established limits: 15-minute windows, 100
// requests globally, 5 failed auth attempts, 50 API requests, 200 per user,
// and per-endpoint budgets for users (30), admin (20), and public (100)
// routes. Development mode raises the global/api ceiling to 1000.
func NewDefaultConfig() *Config {
	window := 15 * time.Minute

	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Environment: "production",
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Store:           StoreTypeMemory,
			CleanupInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
			Global:      WindowLimit{Window: window, Max: 100},
			Development: WindowLimit{Window: window, Max: 1000},
			Auth:        WindowLimit{Window: window, Max: 5},
			API:         WindowLimit{Window: window, Max: 50},
			User:        WindowLimit{Window: window, Max: 200},
			Users:       WindowLimit{Window: window, Max: 30},
			Admin:       WindowLimit{Window: window, Max: 20},
			Public:      WindowLimit{Window: window, Max: 100},
			Throttle: ThrottleLimit{
				Window:     window,
				DelayAfter: 50,
				DelayStep:  500 * time.Millisecond,
				MaxDelay:   20 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "apigate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Validate checks the configuration for values that would misbehave at
// runtime. It is called once after file and environment overrides are
// applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return errors.New("tls enabled but cert or key file not set")
	}

	if c.RateLimit.Enabled {
		if err := c.RateLimit.validate(); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path must not be empty")
		}
	}

	return nil
}

func (rl *RateLimitConfig) validate() error {
	if rl.Store != StoreTypeMemory && rl.Store != StoreTypeRedis {
		return fmt.Errorf("unsupported store type: %s", rl.Store)
	}
	if rl.Store == StoreTypeRedis && rl.Redis.Addr == "" {
		return errors.New("redis store selected but no addr configured")
	}
	if rl.CleanupInterval <= 0 {
		return errors.New("cleanup_interval must be positive")
	}

	budgets := map[string]WindowLimit{
		"global":      rl.Global,
		"development": rl.Development,
		"auth":        rl.Auth,
		"api":         rl.API,
		"user":        rl.User,
		"users":       rl.Users,
		"admin":       rl.Admin,
		"public":      rl.Public,
	}
	for name, wl := range budgets {
		if wl.Window <= 0 {
			return fmt.Errorf("%s: window must be positive", name)
		}
		if wl.Max < 1 {
			return fmt.Errorf("%s: max must be at least 1", name)
		}
	}

	t := rl.Throttle
	if t.Window <= 0 {
		return errors.New("throttle: window must be positive")
	}
	if t.DelayAfter < 0 {
		return errors.New("throttle: delay_after must not be negative")
	}
	if t.DelayStep < 0 || t.MaxDelay < 0 {
		return errors.New("throttle: delays must not be negative")
	}

	return nil
}
