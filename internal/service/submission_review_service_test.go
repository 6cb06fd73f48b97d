package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

func TestReviewFinalizesSubmissionAndRecordsTrainingPair(t *testing.T) {
	db := setupServiceDB(t)
	submissions := repository.NewSubmissionRepository(db)
	records := repository.NewTrainingDataRepository(db)
	training := NewTrainingDataService(records, submissions, testLogger())
	svc := NewSubmissionReviewService(submissions, training, testValidator(), testLogger())
	ctx := context.Background()

	assessment := seedAssessment(t, db, nil)
	submission := seedGradingSubmission(t, db, assessment.ID, func(s *models.Submission) {
		s.SchoolID = uintPtr(3)
		s.AIScore = floatPtr(6)
		s.AIFeedback = stringPtr("Covers the light reactions only")
		s.AIProvider = "GEMINI"
		s.GradingState = models.GradingStateGraded
	})

	view, err := svc.Review(ctx, submission.ID, dto.ReviewSubmissionRequest{Score: floatPtr(8), Feedback: "  Good structure  "}, 21, uintPtr(3))
	require.NoError(t, err)
	require.Equal(t, 8.0, *view.HumanScore)
	require.Equal(t, "Good structure", *view.HumanFeedback)
	require.Equal(t, uint(21), *view.ReviewedBy)

	stored := reloadSubmission(t, db, submission.ID)
	require.True(t, stored.IsFinalized())
	require.Equal(t, models.GradingStateGraded, stored.GradingState)
	require.Equal(t, 6.0, *stored.AIScore)
	require.NotNil(t, stored.ReviewedAt)

	record, err := records.GetBySource(ctx, submission.SourceType, submission.SourceID)
	require.NoError(t, err)
	require.Equal(t, 6.0, *record.AIScore)
	require.Equal(t, 8.0, *record.HumanScore)
	require.Equal(t, "Good structure", *record.HumanFeedback)
	require.Equal(t, uint(3), *record.SchoolID)

	items, err := training.FetchForTraining(ctx, 0, uintPtr(3))
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestReviewRejectsInvalidRequests(t *testing.T) {
	db := setupServiceDB(t)
	submissions := repository.NewSubmissionRepository(db)
	svc := NewSubmissionReviewService(submissions, nil, testValidator(), testLogger())
	ctx := context.Background()

	assessment := seedAssessment(t, db, nil)
	submission := seedGradingSubmission(t, db, assessment.ID, func(s *models.Submission) {
		s.SchoolID = uintPtr(3)
	})

	_, err := svc.Review(ctx, submission.ID, dto.ReviewSubmissionRequest{Score: floatPtr(11)}, 21, nil)
	require.ErrorIs(t, err, ErrScoreExceedsMax)

	_, err = svc.Review(ctx, submission.ID, dto.ReviewSubmissionRequest{}, 21, nil)
	require.Error(t, err)

	_, err = svc.Review(ctx, submission.ID, dto.ReviewSubmissionRequest{Score: floatPtr(5)}, 21, uintPtr(4))
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = svc.Review(ctx, 9999, dto.ReviewSubmissionRequest{Score: floatPtr(5)}, 21, nil)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	require.False(t, reloadSubmission(t, db, submission.ID).IsFinalized())
}

func TestReviewDropsOutstandingClaim(t *testing.T) {
	db := setupServiceDB(t)
	submissions := repository.NewSubmissionRepository(db)
	svc := NewSubmissionReviewService(submissions, nil, testValidator(), testLogger())
	ctx := context.Background()

	assessment := seedAssessment(t, db, nil)
	submission := seedGradingSubmission(t, db, assessment.ID, nil)

	now := time.Now().UTC()
	claimed, err := submissions.Claim(ctx, submission.ID, "worker-1", now, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = svc.Review(ctx, submission.ID, dto.ReviewSubmissionRequest{Score: floatPtr(7)}, 21, nil)
	require.NoError(t, err)

	completed, err := submissions.Complete(ctx, submission.ID, "worker-1", repository.GradeResult{Score: 3, Feedback: "late", Provider: "GEMINI", GradedAt: now})
	require.NoError(t, err)
	require.False(t, completed)

	stored := reloadSubmission(t, db, submission.ID)
	require.Equal(t, 7.0, *stored.HumanScore)
	require.Nil(t, stored.AIScore)
	require.Empty(t, stored.ClaimToken)
}
