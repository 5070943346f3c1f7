package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/beneficiary"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/middleware"
	"github.com/intlpay/payportal/internal/payments"
)

// RegisterPaymentRoutes wires the customer payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, d Deps) {
	g := r.Group("/payments", middleware.RequireRole(identity.RoleCustomer))
	g.Post("/",
		middleware.RateLimit(d.Cache, "payments", d.Cfg.PaymentRateLimit, time.Hour),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		h.Create)
	g.Get("/", h.List)
	g.Get("/:id/summary", h.Summary)
	g.Get("/:id/auth", h.AuthStatus)
	g.Post("/:id/auth/start", h.StartAuth)
	g.Post("/:id/approve", h.Approve)
	g.Get("/:id/receipt", h.Receipt)
	g.Post("/:id/email-receipt", h.EmailReceipt)
}

// RegisterBeneficiaryRoutes wires the saved payee endpoints.
func RegisterBeneficiaryRoutes(r fiber.Router, h *beneficiary.Handler) {
	g := r.Group("/beneficiaries", middleware.RequireRole(identity.RoleCustomer))
	g.Post("/", h.Create)
	g.Get("/", h.List)
	g.Delete("/:id", h.Delete)
}

// RegisterStaffRoutes wires the staff review endpoints.
func RegisterStaffRoutes(r fiber.Router, h *payments.Handler) {
	g := r.Group("/staff", middleware.RequireRole(identity.RoleStaff, identity.RoleAdmin))
	g.Get("/payments", h.StaffSearch)
	g.Get("/payments/:id", h.StaffGet)
	g.Post("/payments/:id/verify", h.StaffVerify)
	g.Post("/payments/:id/submit-swift", h.StaffSubmit)
	g.Post("/payments/:id/notes", h.StaffNote)
}
