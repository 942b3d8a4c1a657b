package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/pipeline"
	"github.com/makeasinger/videogen/internal/service"
	"github.com/makeasinger/videogen/pkg/response"
)

type VideoHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewVideoHandler(svc *service.JobService, v *validator.Validate) *VideoHandler {
	return &VideoHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/videos
func (h *VideoHandler) Create(c *fiber.Ctx) error {
	var req model.CreateVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.CreateAndStart(c.UserContext(), model.JobSpec{
		JobID:          req.VideoID,
		ParticipantIDs: req.CharacterIDs,
		Brief:          req.Description,
	})
	if err != nil {
		return respondError(c, err)
	}

	return response.Accepted(c, model.CreateVideoResponse{
		VideoID:      job.ID(),
		CharacterIDs: job.Spec.ParticipantIDs,
		Description:  job.Spec.Brief,
		Status:       model.StageInitialized,
		CreatedAt:    job.CreatedAt,
	})
}

// Status handles GET /api/videos/:videoId/status
func (h *VideoHandler) Status(c *fiber.Ctx) error {
	rec, err := h.service.GetProgress(c.UserContext(), c.Params("videoId"))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, model.NewVideoStatusResponse(rec))
}

// Get handles GET /api/videos/:videoId and returns the full progress record.
func (h *VideoHandler) Get(c *fiber.Ctx) error {
	rec, err := h.service.GetProgress(c.UserContext(), c.Params("videoId"))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, rec)
}

// Start handles POST /api/videos/:videoId/start
func (h *VideoHandler) Start(c *fiber.Ctx) error {
	videoID := c.Params("videoId")
	if err := h.service.Start(c.UserContext(), videoID); err != nil {
		return respondError(c, err)
	}
	return response.Accepted(c, model.VideoActionResponse{
		Success: true,
		VideoID: videoID,
		Status:  model.StageInitialized,
	})
}

// Cancel handles POST /api/videos/:videoId/cancel
func (h *VideoHandler) Cancel(c *fiber.Ctx) error {
	videoID := c.Params("videoId")
	if err := h.service.Cancel(c.UserContext(), videoID); err != nil {
		return respondError(c, err)
	}

	status := model.StageInitialized
	if rec, err := h.service.GetProgress(c.UserContext(), videoID); err == nil {
		status = rec.Stage
	}
	return response.OK(c, model.VideoActionResponse{
		Success: true,
		VideoID: videoID,
		Status:  status,
	})
}

func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Video not found")
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrJobRunning),
		errors.Is(err, service.ErrJobNotRunning):
		return response.Conflict(c, err.Error())
	case errors.Is(err, pipeline.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
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
