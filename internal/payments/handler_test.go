package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(f *fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/payments", h.Create)
	app.Get("/payments/:id/summary", h.Summary)
	app.Get("/payments/:id/auth", h.AuthStatus)
	app.Post("/payments/:id/approve", h.Approve)
	app.Get("/payments/:id/receipt", h.Receipt)
	app.Post("/staff/payments/:id/verify", h.StaffVerify)
	app.Get("/staff/payments", h.StaffSearch)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	out, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, out
}

func TestHandlerCreateAndApprove(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	resp, body := doJSON(t, app, http.MethodPost, "/payments", "cust-1", map[string]any{
		"amount":              "250.00",
		"currency":            "ZAR",
		"beneficiary_name":    "Lindiwe Dube",
		"beneficiary_account": "9876543210",
		"beneficiary_swift":   "FIRNZAJJ",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created CreateResult
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/payments/"+created.PaymentID+"/summary", "cust-2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign payment, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/payments/"+created.PaymentID+"/auth", "cust-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/payments/"+created.PaymentID+"/receipt", "cust-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for unsettled receipt, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, app, http.MethodPost, "/payments/"+created.PaymentID+"/approve", "cust-1", map[string]string{"token": created.AuthToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, app, http.MethodPost, "/payments/"+created.PaymentID+"/approve", "cust-1", map[string]string{"token": created.AuthToken})
	if resp.StatusCode != http.StatusBadRequest || !bytes.Contains(body, []byte("auth expired or invalid")) {
		t.Fatalf("expected 400 auth expired or invalid, got %d: %s", resp.StatusCode, body)
	}
}

func TestHandlerWrongTokenLooksLikeExpiry(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	res, err := f.svc.CreatePayment(context.Background(), validInput("cust-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, body := doJSON(t, app, http.MethodPost, "/payments/"+res.PaymentID+"/approve", "cust-1", map[string]string{"token": "wrong"})
	if resp.StatusCode != http.StatusBadRequest || !bytes.Contains(body, []byte("auth expired or invalid")) {
		t.Fatalf("expected 400 auth expired or invalid, got %d: %s", resp.StatusCode, body)
	}
}

func TestHandlerStaffErrors(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	ctx := context.Background()

	in := validInput("cust-1")
	in.DeferAuth = true
	res, _ := f.svc.CreatePayment(ctx, in)
	path := "/staff/payments/" + res.PaymentID + "/verify"

	resp, _ := doJSON(t, app, http.MethodPost, path, "staff-1", map[string]string{"pin": "1234"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without pin configured, got %d", resp.StatusCode)
	}
	if err := f.gate.Provision(ctx, "staff-1", "1234"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	resp, _ = doJSON(t, app, http.MethodPost, path, "staff-1", map[string]string{"pin": "0000"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong pin, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, app, http.MethodPost, path, "cust-1", map[string]string{"pin": "1234"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", resp.StatusCode)
	}
	resp, body := doJSON(t, app, http.MethodPost, path, "staff-1", map[string]string{"pin": "1234", "note": "ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, app, http.MethodPost, path, "staff-1", map[string]string{"pin": "1234"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second verify, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/staff/payments?page_size=7", "staff-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for page size, got %d", resp.StatusCode)
	}
}
