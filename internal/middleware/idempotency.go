package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "leasesign:idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyOpTimeout = 2 * time.Second
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency replays the stored response for unsafe requests that repeat an
// Idempotency-Key. Keys are scoped by actor, method and path so two owners
// cannot collide. Requests without the header pass through untouched; the
// lease state machine rejects duplicate signatures on its own.
func Idempotency(cache redis.Cmdable, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		cacheKey := idempotencyPrefix + ActorID(c) + ":" + c.Method() + ":" + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		}
		if !reserved {
			return replay(ctx, c, cache, cacheKey, key, logger)
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey)
			return err
		}

		stored := storedResponse{
			Status:  c.Response().StatusCode(),
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			logger.Error("failed to encode idempotent response", slog.String("key", key), slog.Any("error", err))
			release(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			// The handler already ran; a lost cache entry only weakens replay.
			logger.Warn("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			release(cache, cacheKey)
		}
		return nil
	}
}

func replay(ctx context.Context, c *fiber.Ctx, cache redis.Cmdable, cacheKey, key string, logger *slog.Logger) error {
	cached, err := cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	}
	if err != nil {
		logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
	}
	if cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	return c.Status(stored.Status).SendString(stored.Body)
}

func release(cache redis.Cmdable, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey) // best effort
}
