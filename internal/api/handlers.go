// Package api wires the HTTP surface: route registration, request
// middleware, and the JSON handlers the admission-control layer guards. The
// handlers themselves are deliberately thin; the interesting behavior lives
// in internal/ratelimit.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"apigate/internal/models"
	"apigate/internal/ratelimit"
	"apigate/internal/version"

	"github.com/gorilla/mux"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	startTime time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers() *Handlers {
	return &Handlers{startTime: time.Now()}
}

// scopedResponse echoes rate limit telemetry so clients (and tests) can see
// the budget they are consuming. Remaining and Limit degrade to "unknown"
// when no policy evaluated the request.
type scopedResponse struct {
	Message   string               `json:"message"`
	Remaining interface{}          `json:"remaining"`
	Limit     interface{}          `json:"limit"`
	RateLimit *ratelimit.Telemetry `json:"rateLimit,omitempty"`
}

func newScopedResponse(r *http.Request, message string) scopedResponse {
	resp := scopedResponse{
		Message:   message,
		Remaining: "unknown",
		Limit:     "unknown",
	}
	if t, ok := ratelimit.TelemetryFromContext(r.Context()); ok {
		resp.Remaining = t.Remaining
		resp.Limit = t.Limit
		resp.RateLimit = &t
	}
	return resp
}

// Welcome handles the service root.
// GET /
func (h *Handlers) Welcome(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.WelcomeResponse{
		Message:   "Welcome to the apigate API",
		Status:    "running",
		Timestamp: time.Now().UTC(),
	})
}

// APIIndex describes the API surface.
// GET /api/v1
func (h *Handlers) APIIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.APIIndexResponse{
		Message: "API is running",
		Version: "1.0.0",
		Endpoints: map[string]string{
			"users":  "/api/v1/users",
			"admin":  "/api/v1/admin",
			"auth":   "/api/v1/auth/login",
			"health": "/health",
		},
	})
}

// HealthCheck reports liveness.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.GetInfo().Version,
	})
}

// ListUsers returns the users collection.
// GET /api/v1/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "Users endpoint - rate limited"))
}

// GetUser returns one user by id.
// GET /api/v1/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "User "+id+" details"))
}

// CreateUser creates a user.
// POST /api/v1/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "User created successfully"))
}

// AdminIndex is the admin surface guarded by the admin endpoint policy.
// GET /api/v1/admin
func (h *Handlers) AdminIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "Admin endpoint - rate limited"))
}

// PublicIndex is the public surface guarded by the public endpoint policy.
// GET /public
func (h *Handlers) PublicIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "Public endpoint"))
}

// loginRequest carries the credentials for the auth endpoint. Authentication
// itself is out of scope; this handler only distinguishes success from
// failure so the auth policy's decrement-on-success behavior is exercised.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles authentication attempts under the strict auth policy.
// POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		h.writeErrorResponse(w, http.StatusUnauthorized,
			"Invalid credentials", "Username and password are required", models.ErrorCodeUnauthorized)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, newScopedResponse(r, "Login successful"))
}

// Static stands in for the static asset path, which the speed throttle
// exempts.
// GET /static/{path}
func (h *Handlers) Static(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, status int, errText, message, code string) {
	h.writeJSONResponse(w, status, models.NewErrorResponse(errText, message, code))
}
