package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

var inFlightStates = []string{
	models.GradingStateRetrieving,
	models.GradingStateExtracting,
	models.GradingStateScoring,
}

// GradeResult is the AI verdict written to a submission on success.
type GradeResult struct {
	Score    float64
	Feedback string
	Provider string
	Metadata datatypes.JSONMap
	GradedAt time.Time
}

// GradeFailure is the operational record written when grading fails.
type GradeFailure struct {
	Reason    string
	Retryable bool
	Metadata  datatypes.JSONMap
}

// HumanReview is a teacher's grade written over whatever the AI produced.
type HumanReview struct {
	Score      float64
	Feedback   *string
	ReviewedBy uint
	ReviewedAt time.Time
}

// PendingFilter bounds the batch sweep query.
type PendingFilter struct {
	Limit       int
	MaxAttempts int
	StaleBefore time.Time
}

// SubmissionRepository defines data operations for grading submissions.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Claim(ctx context.Context, id uint, token string, now, staleBefore time.Time) (bool, error)
	UpdateState(ctx context.Context, id uint, token, state string) error
	Complete(ctx context.Context, id uint, token string, result GradeResult) (bool, error)
	Fail(ctx context.Context, id uint, token string, failure GradeFailure) (bool, error)
	Release(ctx context.Context, id uint, token string) error
	ListPendingIDs(ctx context.Context, filter PendingFilter) ([]uint, error)
	ListForLearner(ctx context.Context, courseID, learnerID uint) ([]models.Submission, error)
	FindErrorFeedback(ctx context.Context, markers [][]string) ([]models.Submission, error)
	ClearErrorFeedback(ctx context.Context, markers [][]string) ([]uint, error)
	Review(ctx context.Context, id uint, review HumanReview) (bool, error)
	ListUnrecorded(ctx context.Context, schoolID *uint, limit int) ([]models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Preload("Assessment").First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// Claim atomically moves a claimable submission into the retrieving state under token.
// A submission is claimable when it has no human score and is pending, failed, or holds a stale lease.
func (r *submissionRepository) Claim(ctx context.Context, id uint, token string, now, staleBefore time.Time) (bool, error) {
	claimable := r.db.Where("grading_state IN ?", []string{models.GradingStatePending, models.GradingStateFailed}).
		Or("grading_state IN ? AND claimed_at < ?", inFlightStates, staleBefore)

	tx := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND human_score IS NULL", id).
		Where(claimable).
		Updates(map[string]interface{}{
			"grading_state": models.GradingStateRetrieving,
			"claim_token":   token,
			"claimed_at":    now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (r *submissionRepository) UpdateState(ctx context.Context, id uint, token, state string) error {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_token = ?", id, token).
		Update("grading_state", state).Error
}

// Complete writes the AI verdict in one statement, guarded by the claim token and the absence of a human score.
func (r *submissionRepository) Complete(ctx context.Context, id uint, token string, result GradeResult) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_token = ? AND human_score IS NULL", id, token).
		Updates(map[string]interface{}{
			"ai_score":         result.Score,
			"ai_feedback":      result.Feedback,
			"ai_provider":      result.Provider,
			"grading_state":    models.GradingStateGraded,
			"failure_reason":   nil,
			"failure_retry":    false,
			"graded_at":        result.GradedAt,
			"grading_metadata": result.Metadata,
			"claim_token":      "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

// Fail nulls the AI fields and records the failure reason in one statement.
func (r *submissionRepository) Fail(ctx context.Context, id uint, token string, failure GradeFailure) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_token = ? AND human_score IS NULL", id, token).
		Updates(map[string]interface{}{
			"ai_score":         nil,
			"ai_feedback":      nil,
			"ai_provider":      "",
			"grading_state":    models.GradingStateFailed,
			"failure_reason":   failure.Reason,
			"failure_retry":    failure.Retryable,
			"grading_attempts": gorm.Expr("grading_attempts + 1"),
			"grading_metadata": failure.Metadata,
			"claim_token":      "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

// Release hands a claimed submission back to the pending pool without touching its scores.
func (r *submissionRepository) Release(ctx context.Context, id uint, token string) error {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"grading_state": models.GradingStatePending,
			"claim_token":   "",
			"claimed_at":    nil,
		}).Error
}

func (r *submissionRepository) ListPendingIDs(ctx context.Context, filter PendingFilter) ([]uint, error) {
	eligible := r.db.Where("grading_state = ?", models.GradingStatePending).
		Or("grading_state = ? AND failure_retry = ? AND grading_attempts < ?", models.GradingStateFailed, true, filter.MaxAttempts).
		Or("grading_state IN ? AND claimed_at < ?", inFlightStates, filter.StaleBefore)

	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("human_score IS NULL").
		Where(eligible).
		Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *submissionRepository) ListForLearner(ctx context.Context, courseID, learnerID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	courseAssessments := r.db.Model(&models.Assessment{}).Select("id").Where("course_id = ?", courseID)
	err := r.db.WithContext(ctx).
		Where("learner_id = ? AND assessment_id IN (?)", learnerID, courseAssessments).
		Order("id ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}

	return submissions, nil
}

// errorFeedbackScope selects non-finalized submissions whose feedback matches any marker group
// (every substring of a group must appear) or whose grading failed with a retryable reason.
// Permanent failures stay failed.
func (r *submissionRepository) errorFeedbackScope(db *gorm.DB, markers [][]string) *gorm.DB {
	matches := db.Session(&gorm.Session{NewDB: true}).
		Where("grading_state = ? AND failure_retry = ?", models.GradingStateFailed, true)
	for _, group := range markers {
		if len(group) == 0 {
			continue
		}
		cond := db.Session(&gorm.Session{NewDB: true})
		for _, marker := range group {
			cond = cond.Where(`ai_feedback LIKE ? ESCAPE '\'`, "%"+escapeLike(marker)+"%")
		}
		matches = matches.Or(cond)
	}

	return db.Model(&models.Submission{}).
		Where("human_score IS NULL").
		Where("grading_state NOT IN ?", inFlightStates).
		Where(matches)
}

func (r *submissionRepository) FindErrorFeedback(ctx context.Context, markers [][]string) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.errorFeedbackScope(r.db.WithContext(ctx), markers).Order("id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

// ClearErrorFeedback resets matching submissions to pending in a single transaction.
func (r *submissionRepository) ClearErrorFeedback(ctx context.Context, markers [][]string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.errorFeedbackScope(tx, markers).Order("id ASC").Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		return tx.Model(&models.Submission{}).
			Where("id IN ? AND human_score IS NULL", ids).
			Updates(map[string]interface{}{
				"ai_score":         nil,
				"ai_feedback":      nil,
				"ai_provider":      "",
				"failure_reason":   nil,
				"failure_retry":    false,
				"grading_state":    models.GradingStatePending,
				"grading_attempts": 0,
				"claim_token":      "",
				"claimed_at":       nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Review stores the human grade and finalizes the submission. Any outstanding claim is dropped so a
// worker still holding the lease cannot overwrite it.
func (r *submissionRepository) Review(ctx context.Context, id uint, review HumanReview) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"human_score":    review.Score,
			"human_feedback": review.Feedback,
			"reviewed_by":    review.ReviewedBy,
			"reviewed_at":    review.ReviewedAt,
			"grading_state":  models.GradingStateGraded,
			"claim_token":    "",
			"claimed_at":     nil,
		})
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

const unrecordedScope = `NOT EXISTS (SELECT 1 FROM training_data_records t
	WHERE t.source_type = grading_submissions.source_type AND t.source_id = grading_submissions.source_id
	AND (grading_submissions.human_score IS NULL OR t.human_score IS NOT NULL)
	AND (grading_submissions.human_feedback IS NULL OR t.human_feedback IS NOT NULL))`

// ListUnrecorded returns graded submissions whose training data record is missing or lags behind
// a human review stored on the submission.
func (r *submissionRepository) ListUnrecorded(ctx context.Context, schoolID *uint, limit int) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Preload("Assessment").
		Where("((ai_score IS NOT NULL AND ai_feedback IS NOT NULL) OR human_score IS NOT NULL)").
		Where(unrecordedScope).
		Order("id ASC")
	if schoolID != nil {
		query = query.Where("school_id = ?", *schoolID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var submissions []models.Submission
	if err := query.Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
