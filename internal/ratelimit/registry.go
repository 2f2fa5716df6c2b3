package ratelimit

import (
	"net/http"
	"strings"

	"apigate/internal/models"
)

// Environment selects which policies the global and api scopes resolve to.
// It is passed in explicitly at startup; nothing reads the process
// environment at request time.
type Environment int

const (
	EnvironmentOther Environment = iota
	EnvironmentDevelopment
	EnvironmentProduction
)

// ParseEnvironment maps a mode string to an Environment. Anything that is
// not development or production is treated as other, which enforces
// production-strength limits.
func ParseEnvironment(mode string) Environment {
	switch strings.ToLower(mode) {
	case "development":
		return EnvironmentDevelopment
	case "production":
		return EnvironmentProduction
	default:
		return EnvironmentOther
	}
}

func (e Environment) String() string {
	switch e {
	case EnvironmentDevelopment:
		return "development"
	case EnvironmentProduction:
		return "production"
	default:
		return "other"
	}
}

// RegistryOption configures optional registry behavior.
type RegistryOption func(*Registry)

// WithMetrics attaches a recorder to every policy and the throttle, so each
// admission decision and computed delay is exported.
func WithMetrics(rec MetricsRecorder) RegistryOption {
	return func(reg *Registry) {
		for _, p := range reg.allPolicies() {
			p.metrics = rec
		}
		reg.throttle.metrics = rec
	}
}

// Registry holds every named policy and the speed throttle, constructed once
// at startup against a shared counter store. It resolves which policy
// applies to a scope given the runtime environment.
type Registry struct {
	env Environment

	global    *Policy
	dev       *Policy
	auth      *Policy
	api       *Policy
	user      *Policy
	endpoints map[string]*Policy
	throttle  *Throttle
}

// NewRegistry builds all policies from configuration. Each policy gets its
// own scope label, so budgets never bleed across policies even though they
// share one store.
func NewRegistry(cfg models.RateLimitConfig, env Environment, store CounterStore, opts ...RegistryOption) *Registry {
	reg := &Registry{
		env: env,
		global: NewPolicy(PolicyConfig{
			Scope:       "global",
			Window:      cfg.Global.Window,
			Max:         cfg.Global.Max,
			DenyError:   "Too many requests",
			DenyMessage: "Please try again later",
		}, store),
		dev: NewPolicy(PolicyConfig{
			Scope:       "dev",
			Window:      cfg.Development.Window,
			Max:         cfg.Development.Max,
			DenyError:   "Development rate limit exceeded",
			DenyMessage: "Please try again later",
		}, store),
		// The auth policy counts only failed attempts; a successful login
		// hands its slot back.
		auth: NewPolicy(PolicyConfig{
			Scope:            "auth",
			Window:           cfg.Auth.Window,
			Max:              cfg.Auth.Max,
			CountSuccessOnly: true,
			DenyError:        "Too many authentication attempts",
			DenyMessage:      "Please wait before trying again",
		}, store),
		api: NewPolicy(PolicyConfig{
			Scope:       "api",
			Window:      cfg.API.Window,
			Max:         cfg.API.Max,
			DenyError:   "Too many API requests",
			DenyMessage: "Please try again later",
		}, store),
		// Unauthenticated requests are exempt from the per-user policy by
		// design; they remain covered by the IP-keyed policies.
		user: NewPolicy(PolicyConfig{
			Scope:      "user",
			Window:     cfg.User.Window,
			Max:        cfg.User.Max,
			UserScoped: true,
			Skip: func(r *http.Request) bool {
				_, ok := UserFromContext(r.Context())
				return !ok
			},
			DenyError:   "Too many requests for this user",
			DenyMessage: "Please try again later",
		}, store),
		endpoints: make(map[string]*Policy),
		throttle: NewThrottle(ThrottleConfig{
			Scope:      "speed",
			Window:     cfg.Throttle.Window,
			DelayAfter: cfg.Throttle.DelayAfter,
			DelayStep:  cfg.Throttle.DelayStep,
			MaxDelay:   cfg.Throttle.MaxDelay,
			Skip: func(r *http.Request) bool {
				return strings.HasPrefix(r.URL.Path, "/static")
			},
		}, store),
	}

	for name, wl := range map[string]models.WindowLimit{
		"users":  cfg.Users,
		"admin":  cfg.Admin,
		"public": cfg.Public,
	} {
		reg.endpoints[name] = NewPolicy(PolicyConfig{
			Scope:       name,
			Window:      wl.Window,
			Max:         wl.Max,
			DenyError:   "Too many requests to " + name,
			DenyMessage: "Please try again later",
		}, store)
	}

	for _, opt := range opts {
		opt(reg)
	}

	return reg
}

func (reg *Registry) allPolicies() []*Policy {
	ps := []*Policy{reg.global, reg.dev, reg.auth, reg.api, reg.user}
	for _, p := range reg.endpoints {
		ps = append(ps, p)
	}
	return ps
}

// Environment returns the mode the registry was built for.
func (reg *Registry) Environment() Environment {
	return reg.env
}

// Global resolves the policy guarding every request path. In development it
// is the high-ceiling dev policy so local testing is not throttled.
func (reg *Registry) Global() *Policy {
	if reg.env == EnvironmentDevelopment {
		return reg.dev
	}
	return reg.global
}

// API resolves the policy for general API routes, relaxed in development
// like the global scope.
func (reg *Registry) API() *Policy {
	if reg.env == EnvironmentDevelopment {
		return reg.dev
	}
	return reg.api
}

// Auth returns the strict policy for authentication endpoints. It is never
// relaxed for development; the security-sensitive path keeps production
// limits in every environment.
func (reg *Registry) Auth() *Policy {
	return reg.auth
}

// User returns the per-user policy keyed by authenticated user id.
func (reg *Registry) User() *Policy {
	return reg.user
}

// Endpoint returns the named per-endpoint policy ("users", "admin",
// "public").
func (reg *Registry) Endpoint(name string) (*Policy, bool) {
	p, ok := reg.endpoints[name]
	return p, ok
}

// Throttle returns the speed throttle composed onto every request path.
func (reg *Registry) Throttle() *Throttle {
	return reg.throttle
}
