package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makereels/sync/internal/middleware"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/session"
	"github.com/makereels/sync/pkg/response"
)

// JobsHandler is the consuming-screens surface over the session engine
type JobsHandler struct {
	engine    *session.Engine
	validator *validator.Validate
}

func NewJobsHandler(engine *session.Engine, v *validator.Validate) *JobsHandler {
	return &JobsHandler{
		engine:    engine,
		validator: v,
	}
}

// AddJobRequest is the add-before-submit body
type AddJobRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// sameUser reports whether the caller's token names the session user.
// Mutations from another user's token are rejected; read endpoints
// stay open to any valid token.
func (h *JobsHandler) sameUser(c *fiber.Ctx) bool {
	caller := middleware.GetUserID(c)
	current := h.engine.UserID()
	return caller == "" || current == "" || caller == current
}

// Add handles POST /api/jobs
func (h *JobsHandler) Add(c *fiber.Ctx) error {
	if !h.sameUser(c) {
		return response.Forbidden(c, "Token does not match the active session")
	}

	var req AddJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.engine.AddJob(c.Context(), req.Title)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return response.ValidationError(c, "No active user session", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, job)
}

// RemoveOldest handles DELETE /api/jobs/oldest
func (h *JobsHandler) RemoveOldest(c *fiber.Ctx) error {
	if !h.sameUser(c) {
		return response.Forbidden(c, "Token does not match the active session")
	}
	if err := h.engine.RemoveOldestJob(c.Context()); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return response.ValidationError(c, "No active user session", nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// List handles GET /api/jobs
func (h *JobsHandler) List(c *fiber.Ctx) error {
	jobs := h.engine.Jobs()
	if jobs == nil {
		jobs = []model.ProcessingJob{}
	}
	return response.OK(c, fiber.Map{"jobs": jobs})
}

// Status handles GET /api/status
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"connected":      h.engine.IsConnected(),
		"state":          h.engine.State().String(),
		"userId":         h.engine.UserID(),
		"jobCount":       len(h.engine.Jobs()),
		"minimizedCount": h.engine.MinimizedCount(),
	})
}

// Updates handles GET /api/updates/:family
func (h *JobsHandler) Updates(c *fiber.Ctx) error {
	domain := model.Domain(c.Params("family"))
	switch domain {
	case model.DomainVideo, model.DomainAvatar, model.DomainVideoAvatar, model.DomainSchedule:
	default:
		return response.NotFound(c, "Unknown update family")
	}

	updates := h.engine.Updates(domain)
	if updates == nil {
		updates = []model.StatusUpdate{}
	}
	return response.OK(c, fiber.Map{
		"updates":    updates,
		"processing": h.engine.IsProcessing(domain),
	})
}

// Reconcile handles POST /api/reconcile. Idempotent: a repeat call on
// an already-synced connection does nothing.
func (h *JobsHandler) Reconcile(c *fiber.Ctx) error {
	if !h.sameUser(c) {
		return response.Forbidden(c, "Token does not match the active session")
	}
	if err := h.engine.CheckPendingWorkflows(c.Context()); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return response.ValidationError(c, "No active user session", nil)
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"jobCount": len(h.engine.Jobs())})
}

func formatValidationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" failed on "+fe.Tag())
	}
	return out
}
