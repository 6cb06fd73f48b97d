package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

const globalSettingsKey = "global"

// ScorerResolver returns the scorer configured for a school.
type ScorerResolver interface {
	ScorerFor(ctx context.Context, schoolID *uint) (ai.Scorer, error)
}

// TrainerResolver returns the fine-tuned model trainer configured for a school.
type TrainerResolver interface {
	TrainerFor(ctx context.Context, schoolID *uint) (ai.Trainer, error)
}

// AISettingsService manages tenant AI configuration and resolves scorers from it.
type AISettingsService interface {
	ScorerResolver
	TrainerResolver
	Get(ctx context.Context, schoolID *uint) (dto.AISettingsResponse, error)
	Update(ctx context.Context, schoolID *uint, req dto.AISettingsRequest) (dto.AISettingsResponse, error)
}

type aiSettingsService struct {
	repo      repository.AISettingsRepository
	validator *validator.Validate
	defaults  ai.Defaults
	cache     *cache.Cache
	logger    zerolog.Logger
}

// NewAISettingsService constructs the service. Lookups are cached for ttl.
func NewAISettingsService(repo repository.AISettingsRepository, validator *validator.Validate, defaults ai.Defaults, ttl time.Duration, logger zerolog.Logger) AISettingsService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &aiSettingsService{
		repo:      repo,
		validator: validator,
		defaults:  defaults,
		cache:     cache.New(ttl, 2*ttl),
		logger:    logger.With().Str("component", "ai_settings_service").Logger(),
	}
}

type resolvedSettings struct {
	row       *models.AISettings
	inherited bool
}

func cacheKey(schoolID *uint) string {
	if schoolID == nil {
		return globalSettingsKey
	}
	return fmt.Sprintf("school:%d", *schoolID)
}

// lookup returns the school's row, falling back to the global row. A nil row means nothing is configured.
func (s *aiSettingsService) lookup(ctx context.Context, schoolID *uint) (resolvedSettings, error) {
	key := cacheKey(schoolID)
	if cached, ok := s.cache.Get(key); ok {
		observability.SettingsCacheLookups().WithLabelValues("hit").Inc()
		return cached.(resolvedSettings), nil
	}
	observability.SettingsCacheLookups().WithLabelValues("miss").Inc()

	var resolved resolvedSettings
	if schoolID != nil {
		row, err := s.repo.Get(ctx, schoolID)
		switch {
		case err == nil:
			resolved.row = &row
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return resolvedSettings{}, err
		}
	}

	if resolved.row == nil {
		row, err := s.repo.Get(ctx, nil)
		switch {
		case err == nil:
			resolved.row = &row
			resolved.inherited = schoolID != nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return resolvedSettings{}, err
		}
	}

	s.cache.Set(key, resolved, cache.DefaultExpiration)
	return resolved, nil
}

func (s *aiSettingsService) ScorerFor(ctx context.Context, schoolID *uint) (ai.Scorer, error) {
	resolved, err := s.lookup(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	if resolved.row == nil {
		return nil, ai.ErrConfigurationMissing
	}

	return ai.Resolve(toAISettings(*resolved.row), s.defaults)
}

// TrainerFor resolves the ML service URL from the school's settings or the process default. Training
// ignores the enabled flag so a model can be prepared before grading is switched on.
func (s *aiSettingsService) TrainerFor(ctx context.Context, schoolID *uint) (ai.Trainer, error) {
	resolved, err := s.lookup(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	var settings *ai.Settings
	if resolved.row != nil {
		settings = toAISettings(*resolved.row)
	}
	return ai.ResolveTrainer(settings, s.defaults)
}

func (s *aiSettingsService) Get(ctx context.Context, schoolID *uint) (dto.AISettingsResponse, error) {
	resolved, err := s.lookup(ctx, schoolID)
	if err != nil {
		return dto.AISettingsResponse{}, err
	}

	return s.view(schoolID, resolved), nil
}

func (s *aiSettingsService) Update(ctx context.Context, schoolID *uint, req dto.AISettingsRequest) (dto.AISettingsResponse, error) {
	req.Provider = strings.ToUpper(strings.TrimSpace(req.Provider))
	req.MLAPIURL = strings.TrimSpace(req.MLAPIURL)
	if err := s.validator.Struct(req); err != nil {
		return dto.AISettingsResponse{}, err
	}

	row, err := s.repo.Get(ctx, schoolID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AISettingsResponse{}, err
		}
		row = models.AISettings{SchoolID: schoolID}
	}

	row.Provider = req.Provider
	row.MLAPIURL = req.MLAPIURL
	row.Enabled = req.Enabled
	row.FallbackOrder = joinOrder(ai.ParseOrder(req.FallbackOrder))
	if req.APIKey != nil {
		row.APIKey = strings.TrimSpace(*req.APIKey)
	}

	if err := s.repo.Save(ctx, &row); err != nil {
		return dto.AISettingsResponse{}, err
	}
	s.cache.Flush()

	s.logger.Info().
		Interface("school_id", schoolID).
		Str("provider", row.Provider).
		Bool("enabled", row.Enabled).
		Msg("ai settings updated")

	return s.view(schoolID, resolvedSettings{row: &row}), nil
}

func (s *aiSettingsService) view(schoolID *uint, resolved resolvedSettings) dto.AISettingsResponse {
	response := dto.AISettingsResponse{
		SchoolID:            schoolID,
		Provider:            string(ai.ProviderGemini),
		EffectiveProvider:   string(ai.ProviderGemini),
		MLAPIURL:            s.defaults.MLAPIURL,
		HasAPIKeyConfigured: s.defaults.GeminiAPIKey != "",
	}
	if resolved.row == nil {
		return response
	}

	row := resolved.row
	settings := toAISettings(*row)
	response.Configured = true
	response.Inherited = resolved.inherited
	response.Provider = row.Provider
	response.EffectiveProvider = string(ai.EffectiveProvider(*settings, s.defaults))
	if row.MLAPIURL != "" {
		response.MLAPIURL = row.MLAPIURL
	}
	response.HasAPIKeyConfigured = row.APIKey != "" || s.defaults.GeminiAPIKey != ""
	response.Enabled = row.Enabled
	response.FallbackOrder = row.FallbackOrder
	return response
}

func toAISettings(row models.AISettings) *ai.Settings {
	provider, ok := ai.ParseProvider(row.Provider)
	if !ok {
		provider = ai.ProviderGemini
	}
	return &ai.Settings{
		Enabled:  row.Enabled,
		Provider: provider,
		MLAPIURL: row.MLAPIURL,
		APIKey:   row.APIKey,
		Order:    ai.ParseOrder(row.FallbackOrder),
	}
}

func joinOrder(order []ai.Provider) string {
	parts := make([]string, 0, len(order))
	for _, provider := range order {
		parts = append(parts, string(provider))
	}
	return strings.Join(parts, ",")
}
