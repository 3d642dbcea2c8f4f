package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ingestkit/docbridge/internal/app"
	"github.com/ingestkit/docbridge/internal/httpserver/httputil"
	"github.com/ingestkit/docbridge/internal/limits"
)

const authBearerPrefix = "bearer "

// apiKeyAuth validates the Authorization bearer token against the configured
// key hashes. With no keys configured the check is skipped.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if container.APIKeys == nil || !container.APIKeys.Enabled() {
			return c.Next()
		}

		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization header required")
		}
		if !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "bearer token required")
		}

		key := strings.TrimSpace(raw[len(authBearerPrefix):])
		if !container.APIKeys.Verify(key) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid api key")
		}
		return c.Next()
	}
}

// rateLimit enforces per-caller request caps. Ingestion additionally holds a
// parallel slot for the duration of the request.
func rateLimit(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if container.Limiter == nil || container.Config == nil {
			return c.Next()
		}
		cfg := limits.LimitConfig{RequestsPerMinute: container.Config.Limits.RequestsPerMinute}
		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/ingest") {
			cfg.ParallelRequests = container.Config.Limits.ParallelIngests
		}

		key := limiterKey(c)
		if err := container.Limiter.Allow(c.UserContext(), key, cfg); err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
			}
			// A redis hiccup should not reject traffic.
			return c.Next()
		}
		if cfg.ParallelRequests > 0 {
			defer container.Limiter.Release(c.UserContext(), key, cfg)
		}
		return c.Next()
	}
}

// limiterKey identifies the caller without storing the full credential: the
// leading characters of the bearer token when present, the client address
// otherwise.
func limiterKey(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
		token := strings.TrimSpace(raw[len(authBearerPrefix):])
		if len(token) > 12 {
			token = token[:12]
		}
		if token != "" {
			return "key:" + token
		}
	}
	return "ip:" + c.IP()
}
