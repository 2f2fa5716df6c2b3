package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"apigate/internal/models"
	"apigate/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// requestIDMiddleware assigns each request an id, echoed in the response
// header and included in log lines.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", w.Header().Get("X-Request-ID"),
		)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics in handlers. Limiter evaluation has its
// own fail-open guard; this is the outer net for everything else.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error",
					"An unexpected error occurred", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// userHeaderMiddleware copies a pre-resolved user id from the given header
// into the request context for user-scoped rate limiting. The header is
// expected to be set by a trusted upstream auth layer; this middleware does
// no authentication of its own.
func userHeaderMiddleware(header string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(header); id != "" {
				r = r.WithContext(ratelimit.ContextWithUser(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// notFoundHandler produces the JSON 404 for unmatched routes.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	errorResp := models.NewErrorResponse("Not found",
		"Route not found - "+r.URL.Path, models.ErrorCodeNotFound)
	json.NewEncoder(w).Encode(errorResp)
}

// methodNotAllowedHandler produces the JSON 405 for known routes with the
// wrong method.
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed",
		"Method "+r.Method+" is not allowed for "+r.URL.Path, models.ErrorCodeInvalidRequest)
	json.NewEncoder(w).Encode(errorResp)
}
