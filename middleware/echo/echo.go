// Package echo provides Echo middleware for tenant session resolution and
// quota gating.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/session"
)

// SessionResolver resolves the caller's session from an Echo context.
// Return nil if the caller could not be identified.
type SessionResolver func(c echo.Context) *session.Session

// SessionConfig holds session middleware configuration.
type SessionConfig struct {
	// Resolve extracts the session from a request (required).
	Resolve SessionResolver

	// OnUnauthorized is called when no session could be resolved.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error
}

// Session creates an Echo middleware that resolves the caller's identity
// and passes it down through the request context.
func Session(config SessionConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := config.Resolve(c)
			if sess == nil || sess.TenantID == "" {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			req := c.Request()
			c.SetRequest(req.WithContext(session.NewContext(req.Context(), sess)))
			return next(c)
		}
	}
}

// GateConfig holds quota-gate middleware configuration.
type GateConfig struct {
	// Engine is the quota engine instance (required).
	Engine *quota.Engine

	// OnBlocked is called when the tenant's limits deny the request.
	// If nil, returns 429 Too Many Requests.
	OnBlocked func(c echo.Context, check *quota.CheckResult) error

	// OnError is called when the limit check itself fails.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Gate creates an Echo middleware that blocks requests for tenants over
// their limits. It only checks; charging stays with the handler that
// actually serves content.
func Gate(config GateConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, ok := session.FromContext(c.Request().Context())
			if !ok || sess.TenantID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			check, err := config.Engine.CheckLimits(c.Request().Context(), sess.TenantID)
			if err != nil {
				if config.OnError != nil {
					return config.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
			if !check.Allowed {
				if config.OnBlocked != nil {
					return config.OnBlocked(c, check)
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":  "quota exceeded",
					"reason": string(check.Reason),
				})
			}

			return next(c)
		}
	}
}
