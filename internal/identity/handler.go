package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes admin actor endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type actorResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	Disabled  bool      `json:"disabled"`
	HasPIN    bool      `json:"has_approval_pin"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(a Actor) actorResponse {
	return actorResponse{
		ID:        a.ID,
		Username:  a.Username,
		FullName:  a.FullName,
		Role:      a.Role,
		Disabled:  a.Disabled,
		HasPIN:    a.HasApprovalPIN(),
		CreatedAt: a.CreatedAt,
	}
}

// List returns every actor.
func (h *Handler) List(c *fiber.Ctx) error {
	actors, err := h.service.List(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]actorResponse, 0, len(actors))
	for _, a := range actors {
		out = append(out, toResponse(a))
	}
	return c.JSON(fiber.Map{"items": out})
}

type createRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// Create provisions an actor record for an identity issued by the provider.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	actor, err := h.service.Provision(c.UserContext(), NewActor{Username: req.Username, FullName: req.FullName, Role: req.Role})
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(toResponse(actor))
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrExists):
		return fiber.NewError(http.StatusConflict, "username already taken")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

type disabledRequest struct {
	Disabled bool `json:"disabled"`
}

// SetDisabled toggles the disabled flag of an actor.
func (h *Handler) SetDisabled(c *fiber.Ctx) error {
	var req disabledRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if uid, _ := c.Locals("user_id").(string); uid == c.Params("id") && req.Disabled {
		return fiber.NewError(http.StatusBadRequest, "cannot disable yourself")
	}
	actor, err := h.service.SetDisabled(c.UserContext(), c.Params("id"), req.Disabled)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(toResponse(actor))
}
