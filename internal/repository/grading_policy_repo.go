package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// GradingPolicyRepository stores per-course grading policies.
type GradingPolicyRepository interface {
	GetByCourse(ctx context.Context, courseID uint) (models.GradingPolicy, error)
	Replace(ctx context.Context, policy *models.GradingPolicy) error
}

type gradingPolicyRepository struct {
	db *gorm.DB
}

// NewGradingPolicyRepository instantiates the repository.
func NewGradingPolicyRepository(db *gorm.DB) GradingPolicyRepository {
	return &gradingPolicyRepository{db: db}
}

func (r *gradingPolicyRepository) GetByCourse(ctx context.Context, courseID uint) (models.GradingPolicy, error) {
	var policy models.GradingPolicy
	err := r.db.WithContext(ctx).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("min_score DESC") }).
		Preload("Weights", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("course_id = ?", courseID).
		First(&policy).Error
	if err != nil {
		return models.GradingPolicy{}, err
	}

	return policy, nil
}

// Replace swaps the course policy, its criteria, and its weights in one transaction.
func (r *gradingPolicyRepository) Replace(ctx context.Context, policy *models.GradingPolicy) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.GradingPolicy
		err := tx.Where("course_id = ?", policy.CourseID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Where("policy_id = ?", existing.ID).Delete(&models.GradeCriterion{}).Error; err != nil {
				return err
			}
			if err := tx.Where("policy_id = ?", existing.ID).Delete(&models.GradeWeight{}).Error; err != nil {
				return err
			}
			policy.ID = existing.ID
			policy.CreatedAt = existing.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		for i := range policy.Criteria {
			policy.Criteria[i].ID = 0
		}
		for i := range policy.Weights {
			policy.Weights[i].ID = 0
		}

		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(policy).Error
	})
}
