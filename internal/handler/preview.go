package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/coverloop/api/internal/middleware"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/service"
	"github.com/coverloop/api/pkg/response"
)

type Previewer interface {
	Preview(ctx context.Context, userID, styleID string, subjects []string) (*model.PreviewResult, error)
}

type PreviewHandler struct {
	previews  Previewer
	validator *validator.Validate
}

func NewPreviewHandler(previews Previewer, v *validator.Validate) *PreviewHandler {
	return &PreviewHandler{
		previews:  previews,
		validator: v,
	}
}

// Preview handles POST /api/styles/:styleId/preview
func (h *PreviewHandler) Preview(c *fiber.Ctx) error {
	var req model.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.previews.Preview(c.Context(), middleware.GetUserID(c), c.Params("styleId"), req.Subjects)
	switch {
	case err == nil:
		return response.OK(c, result)
	case errors.Is(err, service.ErrStyleNotFound):
		return response.NotFound(c, "Style not found")
	case errors.Is(err, service.ErrTooManySubjects):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
