package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	actorHeader = "X-Actor-ID"
	actorLocal  = "actor_id"
)

// Actor requires the authenticated owner identifier forwarded by the
// application tier's auth layer and exposes it to handlers via ActorID.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := strings.TrimSpace(c.Get(actorHeader))
		if actor == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+actorHeader+" header")
		}
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}

// ActorID returns the owner identifier placed by Actor, or "".
func ActorID(c *fiber.Ctx) string {
	actor, _ := c.Locals(actorLocal).(string)
	return actor
}
