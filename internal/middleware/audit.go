package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log line per request, including the acting owner.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if actor := ActorID(c); actor != "" {
			attrs = append(attrs, slog.String("actor_id", actor))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			if status >= fiber.StatusInternalServerError {
				logger.Error("request completed", attrs...)
			} else {
				logger.Warn("request completed", attrs...)
			}
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
