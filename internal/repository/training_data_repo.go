package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

const defaultTrainingFetchLimit = 1000

// TrainingDataRepository persists reconciled AI/human grading records.
type TrainingDataRepository interface {
	Upsert(ctx context.Context, record *models.TrainingDataRecord) error
	GetBySource(ctx context.Context, sourceType string, sourceID uint) (models.TrainingDataRecord, error)
	ListReviewed(ctx context.Context, limit int, schoolID *uint) ([]models.TrainingDataRecord, error)
	MarkUsed(ctx context.Context, ids []uint) (int64, error)
	Stats(ctx context.Context, schoolID *uint) (TrainingStats, error)
	ListTrainable(ctx context.Context, limit int, schoolID *uint) ([]models.TrainingDataRecord, error)
}

// TrainingStats counts the records available to a training run.
type TrainingStats struct {
	Total       int64
	WithAI      int64
	WithTeacher int64
	Used        int64
}

const (
	aiPairScope      = "ai_score IS NOT NULL AND ai_feedback IS NOT NULL"
	teacherPairScope = "human_score IS NOT NULL AND human_feedback IS NOT NULL"
	trainableScope   = "((" + aiPairScope + ") OR (" + teacherPairScope + "))"
)

type trainingDataRepository struct {
	db *gorm.DB
}

// NewTrainingDataRepository instantiates the repository.
func NewTrainingDataRepository(db *gorm.DB) TrainingDataRepository {
	return &trainingDataRepository{db: db}
}

// Upsert inserts the record or merges it into the existing one for the same source. Each merged
// column keeps its stored value when the incoming one is NULL; used_for_training is never touched.
func (r *trainingDataRepository) Upsert(ctx context.Context, record *models.TrainingDataRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_type"}, {Name: "source_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"question":       gorm.Expr("COALESCE(NULLIF(excluded.question, ''), training_data_records.question)"),
			"answer":         gorm.Expr("COALESCE(NULLIF(excluded.answer, ''), training_data_records.answer)"),
			"ai_score":       gorm.Expr("COALESCE(excluded.ai_score, training_data_records.ai_score)"),
			"ai_feedback":    gorm.Expr("COALESCE(excluded.ai_feedback, training_data_records.ai_feedback)"),
			"human_score":    gorm.Expr("COALESCE(excluded.human_score, training_data_records.human_score)"),
			"human_feedback": gorm.Expr("COALESCE(excluded.human_feedback, training_data_records.human_feedback)"),
			"max_score":      gorm.Expr("COALESCE(excluded.max_score, training_data_records.max_score)"),
			"school_id":      gorm.Expr("COALESCE(excluded.school_id, training_data_records.school_id)"),
			"updated_at":     gorm.Expr("excluded.updated_at"),
		}),
	}).Create(record).Error
}

func (r *trainingDataRepository) GetBySource(ctx context.Context, sourceType string, sourceID uint) (models.TrainingDataRecord, error) {
	var record models.TrainingDataRecord
	if err := r.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&record).Error; err != nil {
		return models.TrainingDataRecord{}, err
	}

	return record, nil
}

// ListReviewed returns records carrying both a human score and human feedback, newest first.
func (r *trainingDataRepository) ListReviewed(ctx context.Context, limit int, schoolID *uint) ([]models.TrainingDataRecord, error) {
	if limit <= 0 {
		limit = defaultTrainingFetchLimit
	}

	query := r.db.WithContext(ctx).
		Where(teacherPairScope)
	if schoolID != nil {
		query = query.Where("school_id = ?", *schoolID)
	}

	var records []models.TrainingDataRecord
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// MarkUsed flags the given records as consumed; already-flagged ids are left as they are.
func (r *trainingDataRepository) MarkUsed(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&models.TrainingDataRecord{}).
		Where("id IN ?", ids).
		Update("used_for_training", true)
	return result.RowsAffected, result.Error
}

func (r *trainingDataRepository) scoped(ctx context.Context, schoolID *uint) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.TrainingDataRecord{})
	if schoolID != nil {
		query = query.Where("school_id = ?", *schoolID)
	}
	return query
}

// Stats counts trainable records; a record with both pairs counts toward each of WithAI and WithTeacher.
func (r *trainingDataRepository) Stats(ctx context.Context, schoolID *uint) (TrainingStats, error) {
	var stats TrainingStats
	counts := []struct {
		target *int64
		scope  string
	}{
		{&stats.Total, trainableScope},
		{&stats.WithAI, aiPairScope},
		{&stats.WithTeacher, teacherPairScope},
	}
	for _, count := range counts {
		if err := r.scoped(ctx, schoolID).Where(count.scope).Count(count.target).Error; err != nil {
			return TrainingStats{}, err
		}
	}
	if err := r.scoped(ctx, schoolID).Where("used_for_training = ?", true).Count(&stats.Used).Error; err != nil {
		return TrainingStats{}, err
	}

	return stats, nil
}

// ListTrainable returns records carrying an AI pair or a teacher pair, newest first.
func (r *trainingDataRepository) ListTrainable(ctx context.Context, limit int, schoolID *uint) ([]models.TrainingDataRecord, error) {
	if limit <= 0 {
		limit = defaultTrainingFetchLimit
	}

	var records []models.TrainingDataRecord
	err := r.scoped(ctx, schoolID).
		Where(trainableScope).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}
