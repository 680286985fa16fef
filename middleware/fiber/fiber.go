// Package fiber provides Fiber middleware for tenant session resolution and
// quota gating.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/session"
)

// SessionResolver resolves the caller's session from a Fiber context.
// Return nil if the caller could not be identified.
type SessionResolver func(c *fiber.Ctx) *session.Session

// SessionConfig holds session middleware configuration.
type SessionConfig struct {
	// Resolve extracts the session from a request (required).
	Resolve SessionResolver

	// OnUnauthorized is called when no session could be resolved.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error
}

// Session creates a Fiber middleware that resolves the caller's identity
// and passes it down through the request user context.
func Session(config SessionConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess := config.Resolve(c)
		if sess == nil || sess.TenantID == "" {
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.SetUserContext(session.NewContext(c.UserContext(), sess))
		return c.Next()
	}
}

// GateConfig holds quota-gate middleware configuration.
type GateConfig struct {
	// Engine is the quota engine instance (required).
	Engine *quota.Engine

	// OnBlocked is called when the tenant's limits deny the request.
	// If nil, returns 429 Too Many Requests.
	OnBlocked func(c *fiber.Ctx, check *quota.CheckResult) error

	// OnError is called when the limit check itself fails.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Gate creates a Fiber middleware that blocks requests for tenants over
// their limits. It only checks; charging stays with the handler that
// actually serves content.
func Gate(config GateConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, ok := session.FromContext(c.UserContext())
		if !ok || sess.TenantID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		check, err := config.Engine.CheckLimits(c.UserContext(), sess.TenantID)
		if err != nil {
			if config.OnError != nil {
				return config.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
		if !check.Allowed {
			if config.OnBlocked != nil {
				return config.OnBlocked(c, check)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":  "quota exceeded",
				"reason": string(check.Reason),
			})
		}

		return c.Next()
	}
}
