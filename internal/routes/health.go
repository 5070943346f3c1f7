package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/intlpay/payportal/internal/metrics"
)

const probeTimeout = 2 * time.Second

// RegisterHealthRoutes adds the unauthenticated probe and metrics endpoints.
// /livez only reports that the process serves requests; /healthz checks the
// backing stores that are configured.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
		defer cancel()

		checks := fiber.Map{
			"postgres": probe(ctx, d.DB != nil, "memory", func(ctx context.Context) error { return d.DB.Ping(ctx) }),
			"redis":    probe(ctx, d.Cache != nil, "disabled", func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() }),
		}
		code := http.StatusOK
		for _, v := range checks {
			if s, _ := v.(string); s != "ok" && s != "memory" && s != "disabled" {
				code = http.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"service":   d.Cfg.AppName,
			"env":       d.Cfg.AppEnv,
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// probe runs ping when the dependency is configured and returns "ok", the
// ping error, or absent when it is not configured.
func probe(ctx context.Context, configured bool, absent string, ping func(context.Context) error) string {
	if !configured {
		return absent
	}
	if err := ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
