package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// AISettingsHandler manages tenant AI scoring configuration.
type AISettingsHandler struct {
	service service.AISettingsService
	logger  zerolog.Logger
}

// NewAISettingsHandler constructs the handler.
func NewAISettingsHandler(service service.AISettingsService, logger zerolog.Logger) *AISettingsHandler {
	return &AISettingsHandler{
		service: service,
		logger:  logger.With().Str("component", "ai_settings_handler").Logger(),
	}
}

// Register attaches settings endpoints; school_id selects the tenant, absent means global.
func (h *AISettingsHandler) Register(router fiber.Router) {
	router.Get("/", h.get)
	router.Put("/", h.update)
}

func (h *AISettingsHandler) get(c *fiber.Ctx) error {
	schoolID, err := parseOptionalUintQuery(c, "school_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid school_id")
	}

	settings, err := h.service.Get(withRequestContext(c), schoolID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load ai settings")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load ai settings")
	}

	return utils.SendSuccess(c, "ai settings", settings)
}

func (h *AISettingsHandler) update(c *fiber.Ctx) error {
	schoolID, err := parseOptionalUintQuery(c, "school_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid school_id")
	}

	var payload dto.AISettingsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	settings, err := h.service.Update(withRequestContext(c), schoolID, payload)
	if err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to update ai settings")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update ai settings")
	}

	return utils.SendSuccess(c, "ai settings updated", settings)
}
