package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/session"
	"github.com/makereels/sync/pkg/response"
)

// ToastsHandler exposes the toast projection and its two flag flips
type ToastsHandler struct {
	engine *session.Engine
}

func NewToastsHandler(engine *session.Engine) *ToastsHandler {
	return &ToastsHandler{engine: engine}
}

// List handles GET /api/toasts
func (h *ToastsHandler) List(c *fiber.Ctx) error {
	toasts := h.engine.Toasts()
	if toasts == nil {
		toasts = []model.Toast{}
	}
	return response.OK(c, fiber.Map{
		"toasts":         toasts,
		"minimizedCount": h.engine.MinimizedCount(),
	})
}

// Minimize handles POST /api/toasts/:id/minimize
func (h *ToastsHandler) Minimize(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Toast ID is required", nil)
	}
	h.engine.MinimizeToast(id)
	return response.NoContent(c)
}

// Restore handles POST /api/toasts/:id/restore
func (h *ToastsHandler) Restore(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Toast ID is required", nil)
	}
	h.engine.RestoreToast(id)
	return response.NoContent(c)
}
