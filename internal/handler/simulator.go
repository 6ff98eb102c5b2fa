package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/service"
	"github.com/makereels/sync/pkg/response"
)

// SimulatorHandler serves the devserver's backend-shaped endpoints
type SimulatorHandler struct {
	svc       *service.SimulatorService
	validator *validator.Validate
}

func NewSimulatorHandler(svc *service.SimulatorService, v *validator.Validate) *SimulatorHandler {
	return &SimulatorHandler{
		svc:       svc,
		validator: v,
	}
}

// StartVideoRequest is the body of POST /api/users/:userId/videos
type StartVideoRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// StartVideo queues one simulated render for a user
func (h *SimulatorHandler) StartVideo(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return response.ValidationError(c, "User ID is required", nil)
	}

	var req StartVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	wf, err := h.svc.StartVideo(c.Context(), userID, req.Title)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, wf)
}

// ListPending serves the reconciliation query the daemon depends on
func (h *SimulatorHandler) ListPending(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return response.ValidationError(c, "User ID is required", nil)
	}

	workflows, err := h.svc.ListPending(c.Context(), userID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if workflows == nil {
		workflows = []model.PendingWorkflow{}
	}
	return response.OK(c, workflows)
}
