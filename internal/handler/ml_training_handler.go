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
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// MLTrainingHandler exports reviewed grading samples and drives model training runs.
type MLTrainingHandler struct {
	service   service.TrainingDataService
	training  service.MLTrainingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMLTrainingHandler constructs the handler. training may be nil, which leaves only the dataset routes.
func NewMLTrainingHandler(service service.TrainingDataService, training service.MLTrainingService, validator *validator.Validate, logger zerolog.Logger) *MLTrainingHandler {
	return &MLTrainingHandler{
		service:   service,
		training:  training,
		validator: validator,
		logger:    logger.With().Str("component", "ml_training_handler").Logger(),
	}
}

// Register attaches training data endpoints to the router group.
func (h *MLTrainingHandler) Register(router fiber.Router) {
	router.Get("/data", h.list)
	router.Post("/mark-used", h.markUsed)
	router.Post("/sync", h.sync)

	if h.training == nil {
		return
	}
	admin := middleware.RequireRole("admin")
	router.Get("/stats", h.stats)
	router.Get("/settings", h.getSettings)
	router.Put("/settings", admin, h.updateSettings)
	router.Post("/train", admin, h.train)
	router.Get("/history", h.history)
}

func (h *MLTrainingHandler) list(c *fiber.Ctx) error {
	var query dto.TrainingDataQuery
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	query.Limit = limit
	if query.SchoolID, err = parseOptionalUintQuery(c, "school_id"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid school_id")
	}
	if err := h.validator.Struct(query); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query", validationDetails(err))
	}
	if query.SchoolID, err = middleware.ScopeSchool(c, query.SchoolID); err != nil {
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	}

	items, err := h.service.FetchForTraining(withRequestContext(c), query.Limit, query.SchoolID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to fetch training data")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to fetch training data")
	}

	return utils.OK(c, items, "training data", fiber.Map{"count": len(items)})
}

func (h *MLTrainingHandler) markUsed(c *fiber.Ctx) error {
	var payload dto.MarkUsedRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
	}

	result, err := h.service.MarkUsed(withRequestContext(c), payload.IDs)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to mark training data as used")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark training data as used")
	}

	return utils.SendSuccess(c, "training data marked as used", result)
}

func (h *MLTrainingHandler) sync(c *fiber.Ctx) error {
	var payload dto.TrainingSyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}

	schoolID, err := middleware.ScopeSchool(c, payload.SchoolID)
	if err != nil {
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	}

	result, err := h.service.SyncExisting(withRequestContext(c), schoolID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to sync training data")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to sync training data")
	}

	return utils.SendSuccess(c, "training data synced", result)
}

var errInvalidSchoolQuery = errors.New("invalid school_id")

// querySchool reads the school_id query parameter and confines it to the caller's scope.
func querySchool(c *fiber.Ctx) (*uint, error) {
	requested, err := parseOptionalUintQuery(c, "school_id")
	if err != nil {
		return nil, errInvalidSchoolQuery
	}
	return middleware.ScopeSchool(c, requested)
}

func sendSchoolError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errInvalidSchoolQuery) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	return utils.SendError(c, fiber.StatusForbidden, err.Error())
}

func (h *MLTrainingHandler) stats(c *fiber.Ctx) error {
	schoolID, err := querySchool(c)
	if err != nil {
		return sendSchoolError(c, err)
	}

	result, err := h.training.Stats(withRequestContext(c), schoolID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load ml training stats")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load ml training stats")
	}

	return utils.SendSuccess(c, "ml training stats", result)
}

func (h *MLTrainingHandler) getSettings(c *fiber.Ctx) error {
	schoolID, err := querySchool(c)
	if err != nil {
		return sendSchoolError(c, err)
	}

	result, err := h.training.GetSettings(withRequestContext(c), schoolID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load ml training settings")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load ml training settings")
	}

	return utils.SendSuccess(c, "ml training settings", result)
}

func (h *MLTrainingHandler) updateSettings(c *fiber.Ctx) error {
	schoolID, err := querySchool(c)
	if err != nil {
		return sendSchoolError(c, err)
	}

	var payload dto.MLTrainingSettingsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.training.UpdateSettings(withRequestContext(c), schoolID, payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
		case errors.Is(err, service.ErrInvalidTrainingWeights):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to update ml training settings")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update ml training settings")
	}

	return utils.SendSuccess(c, "ml training settings updated", result)
}

func (h *MLTrainingHandler) train(c *fiber.Ctx) error {
	schoolID, err := querySchool(c)
	if err != nil {
		return sendSchoolError(c, err)
	}

	logger := requestLogger(h.logger, c)
	run, err := h.training.Train(withRequestContext(c), schoolID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientTrainingData), errors.Is(err, ai.ErrConfigurationMissing):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, ai.ErrTrainingRejected),
			errors.Is(err, ai.ErrProviderUnreachable),
			errors.Is(err, ai.ErrProviderInvalidResponse):
			logger.Warn().Err(err).Msg("ml service training failed")
			return utils.SendError(c, fiber.StatusBadGateway, err.Error())
		}
		logger.Error().Err(err).Msg("failed to train ml model")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to train ml model")
	}

	logger.Info().
		Uint("triggered_by", userIDFromContext(c)).
		Int("samples", run.Samples).
		Msg("ml training triggered")
	return utils.SendSuccess(c, "ml model trained", run)
}

func (h *MLTrainingHandler) history(c *fiber.Ctx) error {
	var query dto.MLTrainingHistoryQuery
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	query.Limit = limit
	if err := h.validator.Struct(query); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid query", validationDetails(err))
	}
	schoolID, err := querySchool(c)
	if err != nil {
		return sendSchoolError(c, err)
	}

	runs, err := h.training.History(withRequestContext(c), schoolID, query.Limit)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load ml training history")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load ml training history")
	}

	return utils.OK(c, runs, "ml training history", fiber.Map{"count": len(runs)})
}
