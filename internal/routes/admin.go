package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/approval"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/middleware"
	"github.com/intlpay/payportal/internal/payments"
)

// RegisterAdminRoutes wires actor administration and PIN provisioning.
func RegisterAdminRoutes(r fiber.Router, users *identity.Handler, pins *approval.Handler, h *payments.Handler) {
	g := r.Group("/admin", middleware.RequireRole(identity.RoleAdmin))
	g.Get("/users", users.List)
	g.Post("/users", users.Create)
	g.Post("/users/:id/disabled", users.SetDisabled)
	g.Get("/users/:id/payments", h.OwnerPayments)
	g.Post("/staff/:id/pin", pins.SetPIN)
}
