// Package http provides HTTP middleware for tenant session resolution and
// quota gating.
package http

import (
	"net/http"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/session"
)

// SessionResolver resolves the caller's session from an HTTP request.
// Return nil if the caller could not be identified.
type SessionResolver func(r *http.Request) *session.Session

// HeaderResolver resolves the tenant from a header (for deployments where a
// trusted edge already authenticated the widget).
func HeaderResolver(tenantHeader, sessionHeader string) SessionResolver {
	return func(r *http.Request) *session.Session {
		tenantID := r.Header.Get(tenantHeader)
		if tenantID == "" {
			return nil
		}
		return &session.Session{
			TenantID:  tenantID,
			SessionID: r.Header.Get(sessionHeader),
		}
	}
}

// SessionConfig holds session middleware configuration.
type SessionConfig struct {
	// Resolve extracts the session from a request (required).
	Resolve SessionResolver

	// OnUnauthorized is called when no session could be resolved.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Session creates a middleware that resolves the caller's identity once and
// passes it down through the request context. Handlers never care where the
// identity was established.
func Session(config SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := config.Resolve(r)
			if sess == nil || sess.TenantID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// GateConfig holds quota-gate middleware configuration.
type GateConfig struct {
	// Engine is the quota engine instance (required).
	Engine *quota.Engine

	// OnBlocked is called when the tenant's limits deny the request.
	// If nil, returns 429 Too Many Requests.
	OnBlocked func(w http.ResponseWriter, r *http.Request, check *quota.CheckResult)

	// OnError is called when the limit check itself fails.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Gate creates a middleware that blocks requests for tenants over their
// limits. It only checks; charging stays with the handler that actually
// serves content.
func Gate(config GateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok || sess.TenantID == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			check, err := config.Engine.CheckLimits(r.Context(), sess.TenantID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !check.Allowed {
				if config.OnBlocked != nil {
					config.OnBlocked(w, r, check)
				} else {
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
