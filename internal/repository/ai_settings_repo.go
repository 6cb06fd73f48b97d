package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// AISettingsRepository stores tenant AI configuration.
type AISettingsRepository interface {
	// Get returns the school's row, or the global row when schoolID is nil.
	Get(ctx context.Context, schoolID *uint) (models.AISettings, error)
	Save(ctx context.Context, settings *models.AISettings) error
}

type aiSettingsRepository struct {
	db *gorm.DB
}

// NewAISettingsRepository instantiates the repository.
func NewAISettingsRepository(db *gorm.DB) AISettingsRepository {
	return &aiSettingsRepository{db: db}
}

func (r *aiSettingsRepository) Get(ctx context.Context, schoolID *uint) (models.AISettings, error) {
	query := r.db.WithContext(ctx)
	if schoolID == nil {
		query = query.Where("school_id IS NULL")
	} else {
		query = query.Where("school_id = ?", *schoolID)
	}

	var settings models.AISettings
	if err := query.Order("id ASC").First(&settings).Error; err != nil {
		return models.AISettings{}, err
	}

	return settings, nil
}

func (r *aiSettingsRepository) Save(ctx context.Context, settings *models.AISettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}
