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

// JobManager is the job side of the service layer
type JobManager interface {
	CreateJob(ctx context.Context, userID string, playlistIDs []string, styleID string, trigger model.TriggerType) (*model.TriggerResult, error)
	CancelActive(ctx context.Context, userID string) (*model.CancelResult, error)
	GetActive(ctx context.Context, userID string) (*model.JobStatusResponse, error)
	GetJob(ctx context.Context, userID, jobID string) (*model.JobStatusResponse, error)
}

type JobHandler struct {
	jobs      JobManager
	validator *validator.Validate
}

func NewJobHandler(jobs JobManager, v *validator.Validate) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		validator: v,
	}
}

// Trigger handles POST /api/trigger
func (h *JobHandler) Trigger(c *fiber.Ctx) error {
	var req model.TriggerRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.jobs.CreateJob(c.Context(), middleware.GetUserID(c), req.PlaylistIDs, req.StyleID, req.TriggerType)
	switch {
	case err == nil:
		return response.Accepted(c, result)
	case errors.Is(err, service.ErrJobAlreadyActive):
		return response.Conflict(c, response.CodeJobActive, "A job is already running")
	case errors.Is(err, service.ErrNoEligibleTargets):
		var skipped []model.SkippedPlaylist
		if result != nil {
			skipped = result.SkippedPlaylists
		}
		return response.Unprocessable(c, response.CodeNoEligible, "No eligible playlists", skipped)
	case errors.Is(err, service.ErrStyleNotFound):
		return response.NotFound(c, "Style not found")
	default:
		return response.ServiceError(c, err.Error())
	}
}

// Cancel handles POST /api/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.jobs.CancelActive(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrNoActiveJob) {
			return response.NotFound(c, "No active job")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Active handles GET /api/jobs/active
func (h *JobHandler) Active(c *fiber.Ctx) error {
	result, err := h.jobs.GetActive(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrNoActiveJob) {
			return response.NotFound(c, "No active job")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobs.GetJob(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
