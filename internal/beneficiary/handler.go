package beneficiary

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes beneficiary endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a beneficiary handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name     string `json:"name"`
	Account  string `json:"account"`
	Swift    string `json:"swift"`
	Provider string `json:"provider"`
}

// Create stores a new beneficiary for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	view, err := h.service.Create(c.UserContext(), CreateInput{
		OwnerID:  uid,
		Name:     req.Name,
		Account:  req.Account,
		Swift:    req.Swift,
		Provider: req.Provider,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(view)
}

// List returns the caller's beneficiaries.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	items, err := h.service.List(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"items": items})
}

// Delete removes one of the caller's beneficiaries.
func (h *Handler) Delete(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.Delete(c.UserContext(), c.Params("id"), uid); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "not found")
	default:
		return fiber.NewError(http.StatusInternalServerError, "server error")
	}
}
