package approval

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/identity"
)

// Handler exposes approval PIN provisioning to administrators.
type Handler struct {
	gate *Gate
}

// NewHandler constructs an approval handler.
func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// SetPIN provisions or rotates the approval PIN of a staff or admin actor.
func (h *Handler) SetPIN(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	err := h.gate.Provision(c.UserContext(), c.Params("id"), req.PIN)
	switch {
	case err == nil:
		return c.SendStatus(http.StatusNoContent)
	case errors.Is(err, ErrInvalidPin):
		return fiber.NewError(http.StatusBadRequest, "pin must be 4-6 digits")
	case errors.Is(err, ErrInvalidRole):
		return fiber.NewError(http.StatusConflict, "only staff and admins hold approval pins")
	case errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "user not found")
	default:
		return fiber.NewError(http.StatusInternalServerError, "server error")
	}
}
