package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/intlpay/payportal/internal/approval"
)

// Handler exposes payment endpoints for customers and staff.
type Handler struct {
	service *Service
}

// NewHandler constructs a payments HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Provider           string `json:"provider"`
	BeneficiaryID      string `json:"beneficiary_id"`
	BeneficiaryName    string `json:"beneficiary_name"`
	BeneficiaryAccount string `json:"beneficiary_account"`
	BeneficiarySwift   string `json:"beneficiary_swift"`
	SaveBeneficiary    bool   `json:"save_beneficiary"`
	DeferAuth          bool   `json:"defer_auth"`
}

// Create registers a payment for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.CreatePayment(c.UserContext(), CreateInput{
		OwnerID:            uid,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Provider:           req.Provider,
		BeneficiaryID:      req.BeneficiaryID,
		BeneficiaryName:    req.BeneficiaryName,
		BeneficiaryAccount: req.BeneficiaryAccount,
		BeneficiarySwift:   req.BeneficiarySwift,
		SaveBeneficiary:    req.SaveBeneficiary,
		DeferAuth:          req.DeferAuth,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// List returns the caller's payments.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	items, err := h.service.ListPayments(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"items": items})
}

// Summary returns one of the caller's payments.
func (h *Handler) Summary(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	summary, err := h.service.GetSummary(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(summary)
}

// AuthStatus reports the confirmation window of a payment.
func (h *Handler) AuthStatus(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	status, err := h.service.GetAuthStatus(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(status)
}

// StartAuth opens the confirmation window of a deferred payment.
func (h *Handler) StartAuth(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.StartAuthWindow(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

type approveRequest struct {
	Token string `json:"token"`
}

// Approve confirms a payment with its one-time token.
func (h *Handler) Approve(c *fiber.Ctx) error {
	var req approveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	id, err := h.service.ApprovePayment(c.UserContext(), c.Params("id"), uid, req.Token)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"payment_id": id, "status": StatusSent})
}

// Receipt returns the proof of payment of a settled payment.
func (h *Handler) Receipt(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	receipt, err := h.service.Receipt(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(receipt)
}

type emailRequest struct {
	To string `json:"to"`
}

// EmailReceipt queues the proof of payment for delivery.
func (h *Handler) EmailReceipt(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.EmailReceipt(c.UserContext(), c.Params("id"), uid, req.To); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusAccepted)
}

// StaffSearch pages through all payments.
func (h *Handler) StaffSearch(c *fiber.Ctx) error {
	res, err := h.service.Search(c.UserContext(), SearchInput{
		Status:   c.Query("status"),
		Query:    c.Query("q"),
		Page:     c.Query("page"),
		PageSize: c.QueryInt("page_size", 0),
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

// StaffGet returns one payment with its audit trail.
func (h *Handler) StaffGet(c *fiber.Ctx) error {
	view, err := h.service.StaffGet(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view)
}

type verifyRequest struct {
	PIN  string `json:"pin"`
	Note string `json:"note"`
}

// StaffVerify marks a payment verified.
func (h *Handler) StaffVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.StaffVerify(c.UserContext(), c.Params("id"), uid, req.PIN, req.Note)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view)
}

type submitRequest struct {
	PIN string `json:"pin"`
}

// StaffSubmit submits a verified payment for settlement.
func (h *Handler) StaffSubmit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.StaffSubmit(c.UserContext(), c.Params("id"), uid, req.PIN)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view)
}

type noteRequest struct {
	Note string `json:"note"`
}

// StaffNote appends a note to the audit trail.
func (h *Handler) StaffNote(c *fiber.Ctx) error {
	var req noteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.AddNote(c.UserContext(), c.Params("id"), uid, req.Note)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(view)
}

// OwnerPayments lists a customer's payments for administrators.
func (h *Handler) OwnerPayments(c *fiber.Ctx) error {
	items, err := h.service.ListForOwner(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"items": items})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "payment not found")
	case errors.Is(err, ErrAuthWindowExpired), errors.Is(err, ErrInvalidToken):
		return fiber.NewError(http.StatusBadRequest, "auth expired or invalid")
	case errors.Is(err, ErrInvalidStateTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, approval.ErrInvalidRole):
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	case errors.Is(err, approval.ErrNoPinConfigured):
		return fiber.NewError(http.StatusConflict, "approval pin not configured")
	case errors.Is(err, approval.ErrPinLocked):
		return fiber.NewError(http.StatusLocked, "approval pin locked")
	case errors.Is(err, approval.ErrInvalidPin):
		return fiber.NewError(http.StatusUnauthorized, "invalid approval pin")
	default:
		return fiber.NewError(http.StatusInternalServerError, "server error")
	}
}
