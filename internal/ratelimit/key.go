package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Key composes the bucket key for a scope and a resolved client identity.
// Identical scope and identity always map to the same key; distinct
// identities under one scope never collide.
func Key(scope, identity string) string {
	return scope + ":" + identity
}

// ClientIP extracts the client IP from the request, checking proxy headers
// before falling back to the transport peer address.
//
// Header-supplied addresses are untrusted: a client can spoof
// X-Forwarded-For and X-Real-IP to hop between buckets. That is acceptable
// here because rate limiting is best-effort abuse mitigation, not an
// authorization boundary. Deployments behind a proxy should have the proxy
// overwrite these headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
