package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// GradeReportHandler serves learner grade reports and course grading policies.
type GradeReportHandler struct {
	reports  service.GradeReportService
	policies service.GradingPolicyService
	logger   zerolog.Logger
}

// NewGradeReportHandler constructs the handler.
func NewGradeReportHandler(reports service.GradeReportService, policies service.GradingPolicyService, logger zerolog.Logger) *GradeReportHandler {
	return &GradeReportHandler{
		reports:  reports,
		policies: policies,
		logger:   logger.With().Str("component", "grade_report_handler").Logger(),
	}
}

// Register attaches course-scoped endpoints to the router group.
func (h *GradeReportHandler) Register(router fiber.Router) {
	router.Get("/:courseId/learners/:learnerId/grade-report", h.report)
	router.Get("/:courseId/grading-policy", h.getPolicy)
	router.Put("/:courseId/grading-policy", h.replacePolicy)
}

func (h *GradeReportHandler) report(c *fiber.Ctx) error {
	courseID, err := parseUintParam(c, "courseId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid course id")
	}
	learnerID, err := parseUintParam(c, "learnerId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid learner id")
	}

	report, err := h.reports.BuildReport(withRequestContext(c), courseID, learnerID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Uint("course_id", courseID).Uint("learner_id", learnerID).Msg("failed to build grade report")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to build grade report")
	}

	return utils.SendSuccess(c, "grade report", report)
}
