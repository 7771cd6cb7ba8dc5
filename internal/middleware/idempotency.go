package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyMiddleware replays the cached 2xx response for a repeated
// X-Correlation-ID on mutating requests. Keys are scoped to the caller so one
// user cannot replay another's response.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		correlationID := c.Get("X-Correlation-ID")
		if correlationID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("idempotency:%s:%s:%s", UserID(c), c.Path(), correlationID)
		ctx := c.UserContext()

		cached, err := redisClient.Get(ctx, key).Bytes()
		if err == nil && len(cached) > 0 {
			c.Set("X-Idempotent-Replay", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(cached)
		}
		if err != nil && err != redis.Nil {
			log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			// fasthttp reuses the body buffer after the handler returns
			body := append([]byte(nil), c.Response().Body()...)
			if len(body) > 0 {
				if err := redisClient.Set(ctx, key, body, ttl).Err(); err != nil {
					log.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
				}
			}
		}
		return nil
	}
}
