package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// SubmissionReviewHandler lets teachers finalize submissions with their own grade.
type SubmissionReviewHandler struct {
	service   service.SubmissionReviewService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionReviewHandler constructs the handler.
func NewSubmissionReviewHandler(service service.SubmissionReviewService, validator *validator.Validate, logger zerolog.Logger) *SubmissionReviewHandler {
	return &SubmissionReviewHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_review_handler").Logger(),
	}
}

// Register attaches review endpoints to the grading group.
func (h *SubmissionReviewHandler) Register(router fiber.Router) {
	router.Put("/submissions/:id/review", h.review)
}

func (h *SubmissionReviewHandler) review(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReviewSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
	}

	scope, err := middleware.ScopeSchool(c, nil)
	if err != nil {
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	}

	logger := requestLogger(h.logger, c)
	response, err := h.service.Review(withRequestContext(c), id, payload, userIDFromContext(c), scope)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case errors.Is(err, service.ErrScoreExceedsMax):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case isValidationError(err):
			return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
		}
		logger.Error().Err(err).Uint("submission_id", id).Msg("failed to review submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to review submission")
	}

	return utils.SendSuccess(c, "submission reviewed", response)
}
