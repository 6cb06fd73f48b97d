package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// GradingHandler exposes the grading orchestrator and its operational sweeps.
type GradingHandler struct {
	service   service.GradingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, validator *validator.Validate, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/submissions/:id/grade", h.grade)
	router.Post("/run-pending", h.runPending)
	router.Post("/clear-error-feedback", h.clearErrorFeedback)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	logger := requestLogger(h.logger, c)
	outcome, err := h.service.Grade(withRequestContext(c), id)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		logger.Error().Err(err).Uint("submission_id", id).Msg("failed to grade submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to grade submission")
	}

	logger.Info().
		Uint("submission_id", id).
		Uint("triggered_by", userIDFromContext(c)).
		Str("state", outcome.State).
		Str("reason", outcome.Reason).
		Msg("grading triggered")
	return utils.SendSuccess(c, "grading finished", outcome)
}

func (h *GradingHandler) runPending(c *fiber.Ctx) error {
	var payload dto.RunPendingRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	if payload.Limit == 0 {
		limit, err := parseQueryInt(c, "limit")
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		payload.Limit = limit
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
	}

	summary, err := h.service.GradePending(withRequestContext(c), payload.Limit)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to run pending grading")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to run pending grading")
	}

	meta := fiber.Map{
		"requested":   summary.Requested,
		"graded":      summary.Graded,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"released":    summary.Released,
		"interrupted": summary.Interrupted,
	}
	return utils.OK(c, summary.Outcomes, "pending grading finished", meta)
}

func (h *GradingHandler) clearErrorFeedback(c *fiber.Ctx) error {
	var payload dto.ClearErrorFeedbackRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	if c.QueryBool("dry_run") {
		payload.DryRun = true
	}

	result, err := h.service.ClearErrorFeedback(withRequestContext(c), payload.DryRun)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to clear error feedback")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to clear error feedback")
	}

	message := "error feedback cleared"
	if result.DryRun {
		message = "error feedback preview"
	}
	return utils.SendSuccess(c, message, result)
}
