package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// ErrScoreExceedsMax indicates a review score surpasses the submission's max score.
var ErrScoreExceedsMax = errors.New("score exceeds max score")

// SubmissionReviewService records teacher grades over AI verdicts.
type SubmissionReviewService interface {
	Review(ctx context.Context, submissionID uint, payload dto.ReviewSubmissionRequest, reviewerID uint, schoolScope *uint) (dto.GradingSubmissionResponse, error)
}

type submissionReviewService struct {
	repo      repository.SubmissionRepository
	recorder  TrainingRecorder
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSubmissionReviewService constructs the review service. recorder may be nil.
func NewSubmissionReviewService(repo repository.SubmissionRepository, recorder TrainingRecorder, validator *validator.Validate, logger zerolog.Logger) SubmissionReviewService {
	return &submissionReviewService{
		repo:      repo,
		recorder:  recorder,
		validator: validator,
		logger:    logger.With().Str("component", "submission_review_service").Logger(),
		now:       time.Now,
	}
}

// Review finalizes the submission with the teacher's score and feedback, then feeds the pair into
// the training data store. A scoped caller cannot see submissions outside their school.
func (s *submissionReviewService) Review(ctx context.Context, submissionID uint, payload dto.ReviewSubmissionRequest, reviewerID uint, schoolScope *uint) (dto.GradingSubmissionResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/submission_review")
	ctx, span := tracer.Start(ctx, "grading.review")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.reviewer_id", int64(reviewerID)),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradingSubmissionResponse{}, err
	}

	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.GradingSubmissionResponse{}, ErrSubmissionNotFound
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.GradingSubmissionResponse{}, err
	}
	if schoolScope != nil && (submission.SchoolID == nil || *submission.SchoolID != *schoolScope) {
		span.SetStatus(codes.Error, "submission_out_of_scope")
		return dto.GradingSubmissionResponse{}, ErrSubmissionNotFound
	}

	score := *payload.Score
	limit := maxScore(submission)
	if score > limit+1e-9 {
		span.SetStatus(codes.Error, "score_exceeds_max")
		return dto.GradingSubmissionResponse{}, ErrScoreExceedsMax
	}

	feedback := optionalText(payload.Feedback)
	if isSameReview(submission, score, feedback, reviewerID) {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		return dto.NewGradingSubmissionResponse(submission), nil
	}

	reviewedAt := s.now().UTC()
	updated, err := s.repo.Review(ctx, submission.ID, repository.HumanReview{
		Score:      score,
		Feedback:   feedback,
		ReviewedBy: reviewerID,
		ReviewedAt: reviewedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return dto.GradingSubmissionResponse{}, err
	}
	if !updated {
		return dto.GradingSubmissionResponse{}, ErrSubmissionNotFound
	}

	submission.HumanScore = &score
	submission.HumanFeedback = feedback
	submission.ReviewedBy = &reviewerID
	submission.ReviewedAt = &reviewedAt
	submission.GradingState = models.GradingStateGraded
	submission.ClaimToken = ""
	submission.ClaimedAt = nil

	if s.recorder != nil {
		s.recorder.Record(ctx, TrainingEntry{
			Question:      question(submission),
			Answer:        answerSummary(submission),
			AIScore:       submission.AIScore,
			AIFeedback:    submission.AIFeedback,
			HumanScore:    submission.HumanScore,
			HumanFeedback: submission.HumanFeedback,
			MaxScore:      &limit,
			SourceType:    submission.SourceType,
			SourceID:      submission.SourceID,
			SchoolID:      submission.SchoolID,
		})
	}

	span.SetAttributes(attribute.Float64("grading.score", score))
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("reviewed_by", reviewerID).
		Float64("score", score).
		Msg("submission reviewed")

	return dto.NewGradingSubmissionResponse(submission), nil
}

func isSameReview(submission models.Submission, score float64, feedback *string, reviewerID uint) bool {
	if submission.HumanScore == nil || math.Abs(*submission.HumanScore-score) >= 1e-6 {
		return false
	}
	if submission.ReviewedBy == nil || *submission.ReviewedBy != reviewerID {
		return false
	}
	current := ""
	if submission.HumanFeedback != nil {
		current = strings.TrimSpace(*submission.HumanFeedback)
	}
	next := ""
	if feedback != nil {
		next = *feedback
	}
	return current == next
}
