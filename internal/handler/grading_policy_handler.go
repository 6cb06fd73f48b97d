package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

func (h *GradeReportHandler) getPolicy(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	policy, err := h.policies.Get(withRequestContext(c), courseID)
	if err != nil {
		if errors.Is(err, service.ErrGradingPolicyNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading policy not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("course_id", courseID).Msg("failed to load grading policy")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading policy")
	}

	return utils.SendSuccess(c, "grading policy", policy)
}

func (h *GradeReportHandler) replacePolicy(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}

	var payload dto.GradingPolicyRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	policy, err := h.policies.Replace(withRequestContext(c), courseID, payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
		case errors.Is(err, service.ErrInvalidWeights), errors.Is(err, service.ErrInvalidCriterion):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("course_id", courseID).Msg("failed to replace grading policy")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to replace grading policy")
		}
	}

	return utils.SendSuccess(c, "grading policy updated", policy)
}
