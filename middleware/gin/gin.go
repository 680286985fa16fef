// Package gin provides Gin middleware for tenant session resolution and
// quota gating.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/session"
)

// SessionResolver resolves the caller's session from a Gin context.
// Return nil if the caller could not be identified.
type SessionResolver func(c *gin.Context) *session.Session

// SessionConfig holds session middleware configuration.
type SessionConfig struct {
	// Resolve extracts the session from a request (required).
	Resolve SessionResolver

	// OnUnauthorized is called when no session could be resolved.
	// If nil, aborts with 401 Unauthorized.
	OnUnauthorized func(c *gin.Context)
}

// Session creates a Gin middleware that resolves the caller's identity and
// passes it down through the request context.
func Session(config SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := config.Resolve(c)
		if sess == nil || sess.TenantID == "" {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			return
		}
		c.Request = c.Request.WithContext(session.NewContext(c.Request.Context(), sess))
		c.Next()
	}
}

// GateConfig holds quota-gate middleware configuration.
type GateConfig struct {
	// Engine is the quota engine instance (required).
	Engine *quota.Engine

	// OnBlocked is called when the tenant's limits deny the request.
	// If nil, aborts with 429 Too Many Requests.
	OnBlocked func(c *gin.Context, check *quota.CheckResult)

	// OnError is called when the limit check itself fails.
	// If nil, aborts with 500 Internal Server Error.
	OnError func(c *gin.Context, err error)
}

// Gate creates a Gin middleware that blocks requests for tenants over their
// limits. It only checks; charging stays with the handler that actually
// serves content.
func Gate(config GateConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := session.FromContext(c.Request.Context())
		if !ok || sess.TenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		check, err := config.Engine.CheckLimits(c.Request.Context(), sess.TenantID)
		if err != nil {
			if config.OnError != nil {
				config.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}
		if !check.Allowed {
			if config.OnBlocked != nil {
				config.OnBlocked(c, check)
			} else {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":  "quota exceeded",
					"reason": string(check.Reason),
				})
			}
			return
		}

		c.Next()
	}
}
