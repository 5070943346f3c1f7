package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/intlpay/payportal/internal/logging"
)

func setupIdempotentApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	var calls int32
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/payments", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/invalid", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusBadRequest, "bad amount")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, user, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupIdempotentApp(t)
	post(t, app, "/payments", "cust-1", "")
	post(t, app, "/payments", "cust-1", "")
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	status, first := post(t, app, "/payments", "cust-1", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d", status)
	}
	status, second := post(t, app, "/payments", "cust-1", "abc123")
	if status != fiber.StatusCreated || second != first {
		t.Fatalf("expected replay of %s, got %d %s", first, status, second)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", *calls)
	}
}

func TestIdempotencyKeysAreScopedPerActor(t *testing.T) {
	app, calls := setupIdempotentApp(t)
	post(t, app, "/payments", "cust-1", "shared")
	post(t, app, "/payments", "cust-2", "shared")
	if *calls != 2 {
		t.Fatalf("expected separate executions per actor, ran %d", *calls)
	}
}

func TestIdempotencyReplaysClientErrors(t *testing.T) {
	app, calls := setupIdempotentApp(t)
	status, _ := post(t, app, "/invalid", "cust-1", "k1")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", status)
	}
	status, body := post(t, app, "/invalid", "cust-1", "k1")
	if status != fiber.StatusBadRequest || body != "bad amount" {
		t.Fatalf("expected replayed 400, got %d %q", status, body)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d", *calls)
	}
}
