package api

import (
	"net/http"

	"apigate/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithUserHeader installs middleware that reads the pre-resolved user id
// from the given header. Only enable it behind a trusted proxy or auth
// layer that controls the header.
func WithUserHeader(header string) RouteOption {
	return func(r *mux.Router) {
		r.Use(userHeaderMiddleware(header))
	}
}

// SetupRoutes configures the HTTP routes with their admission-control
// chains. Every route runs under the global policy and the speed throttle;
// scoped route groups additionally run their own policy, so a scoped
// request must be admitted by both. Pass a nil registry to disable rate
// limiting entirely.
func SetupRoutes(handlers *Handlers, reg *ratelimit.Registry, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	if reg != nil {
		router.Use(ratelimit.Limit(reg.Global()))
		router.Use(ratelimit.Slow(reg.Throttle()))
	}

	router.HandleFunc("/", handlers.Welcome).Methods("GET")
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/static/{path:.*}", handlers.Static).Methods("GET")

	public := router.PathPrefix("/public").Subrouter()
	if reg != nil {
		if p, ok := reg.Endpoint("public"); ok {
			public.Use(ratelimit.Limit(p))
		}
	}
	public.HandleFunc("", handlers.PublicIndex).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	if reg != nil {
		api.Use(ratelimit.Limit(reg.API()))
	}
	api.HandleFunc("", handlers.APIIndex).Methods("GET")

	auth := api.PathPrefix("/auth").Subrouter()
	if reg != nil {
		auth.Use(ratelimit.Limit(reg.Auth()))
	}
	auth.HandleFunc("/login", handlers.Login).Methods("POST")

	users := api.PathPrefix("/users").Subrouter()
	if reg != nil {
		if p, ok := reg.Endpoint("users"); ok {
			users.Use(ratelimit.Limit(p, reg.User()))
		}
	}
	users.HandleFunc("", handlers.ListUsers).Methods("GET")
	users.HandleFunc("", handlers.CreateUser).Methods("POST")
	users.HandleFunc("/{id}", handlers.GetUser).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	if reg != nil {
		if p, ok := reg.Endpoint("admin"); ok {
			admin.Use(ratelimit.Limit(p))
		}
	}
	admin.HandleFunc("", handlers.AdminIndex).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}
