package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// MLTrainingRepository stores training weights and the history of training runs.
type MLTrainingRepository interface {
	// GetSettings returns the school's weights, or the global row when schoolID is nil.
	GetSettings(ctx context.Context, schoolID *uint) (models.MLTrainingSettings, error)
	SaveSettings(ctx context.Context, settings *models.MLTrainingSettings) error
	CreateRun(ctx context.Context, run *models.MLTrainingRun) error
	ListRuns(ctx context.Context, schoolID *uint, limit int) ([]models.MLTrainingRun, error)
	LastCompletedRun(ctx context.Context, schoolID *uint) (models.MLTrainingRun, error)
}

type mlTrainingRepository struct {
	db *gorm.DB
}

// NewMLTrainingRepository instantiates the repository.
func NewMLTrainingRepository(db *gorm.DB) MLTrainingRepository {
	return &mlTrainingRepository{db: db}
}

func (r *mlTrainingRepository) GetSettings(ctx context.Context, schoolID *uint) (models.MLTrainingSettings, error) {
	query := r.db.WithContext(ctx)
	if schoolID == nil {
		query = query.Where("school_id IS NULL")
	} else {
		query = query.Where("school_id = ?", *schoolID)
	}

	var settings models.MLTrainingSettings
	if err := query.Order("id ASC").First(&settings).Error; err != nil {
		return models.MLTrainingSettings{}, err
	}

	return settings, nil
}

func (r *mlTrainingRepository) SaveSettings(ctx context.Context, settings *models.MLTrainingSettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

func (r *mlTrainingRepository) CreateRun(ctx context.Context, run *models.MLTrainingRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// ListRuns returns runs newest first. A nil schoolID spans every school.
func (r *mlTrainingRepository) ListRuns(ctx context.Context, schoolID *uint, limit int) ([]models.MLTrainingRun, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if schoolID != nil {
		query = query.Where("school_id = ?", *schoolID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.MLTrainingRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}

	return runs, nil
}

func (r *mlTrainingRepository) LastCompletedRun(ctx context.Context, schoolID *uint) (models.MLTrainingRun, error) {
	query := r.db.WithContext(ctx).Where("status = ?", models.TrainingRunCompleted)
	if schoolID != nil {
		query = query.Where("school_id = ?", *schoolID)
	}

	var run models.MLTrainingRun
	if err := query.Order("created_at DESC, id DESC").First(&run).Error; err != nil {
		return models.MLTrainingRun{}, err
	}

	return run, nil
}
