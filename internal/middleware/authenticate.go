package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/auth"
	"github.com/intlpay/payportal/internal/identity"
)

const actorLocal = "actor"

// Authenticate validates the bearer token and loads the actor it names.
// Disabled or unknown actors are rejected even with a valid token.
func Authenticate(tokens *auth.Tokens, actors identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Verify(strings.TrimSpace(authz[7:]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		actor, err := actors.FindByID(c.UserContext(), claims.Subject)
		if err != nil || actor.Disabled {
			return fiber.NewError(http.StatusUnauthorized, "unknown or disabled account")
		}

		c.Locals("user_id", actor.ID)
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
		}
		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}

// ActorFrom returns the actor loaded by Authenticate.
func ActorFrom(c *fiber.Ctx) (identity.Actor, bool) {
	actor, ok := c.Locals(actorLocal).(identity.Actor)
	return actor, ok
}
