package repository

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func setupGradingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Assessment{},
		&models.Submission{},
		&models.TrainingDataRecord{},
		&models.GradingPolicy{},
		&models.GradeCriterion{},
		&models.GradeWeight{},
		&models.AISettings{},
		&models.MLTrainingSettings{},
		&models.MLTrainingRun{},
	))
	return db
}

var sourceSeq atomic.Uint32

func floatPtr(v float64) *float64 { return &v }

func stringPtr(v string) *string { return &v }

func seedSubmission(t *testing.T, db *gorm.DB, mutate func(*models.Submission)) models.Submission {
	t.Helper()
	submission := models.Submission{
		AssessmentID: 1,
		LearnerID:    7,
		SourceType:   models.SourceTypeAssignment,
		SourceID:     uint(sourceSeq.Add(1)),
		FileName:     "essay.pdf",
		FileURL:      "/uploads/essay.pdf",
		MaxScore:     10,
		GradingState: models.GradingStatePending,
	}
	if mutate != nil {
		mutate(&submission)
	}
	require.NoError(t, db.Create(&submission).Error)
	return submission
}

func TestSubmissionClaimIsExclusive(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	submission := seedSubmission(t, db, nil)

	now := time.Now()
	ok, err := repo.Claim(context.Background(), submission.ID, "token-a", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(context.Background(), submission.ID, "token-b", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "second claim must not steal a live lease")

	ok, err = repo.Claim(context.Background(), submission.ID, "token-c", now.Add(time.Hour), now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "stale lease can be reclaimed")
}

func TestSubmissionClaimSkipsFinalizedAndGraded(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	finalized := seedSubmission(t, db, func(s *models.Submission) { s.HumanScore = floatPtr(9) })
	graded := seedSubmission(t, db, func(s *models.Submission) { s.GradingState = models.GradingStateGraded })

	now := time.Now()
	for _, id := range []uint{finalized.ID, graded.ID} {
		ok, err := repo.Claim(context.Background(), id, "token", now, now.Add(-time.Minute))
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestSubmissionCompleteRequiresTokenAndNoHumanScore(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	submission := seedSubmission(t, db, nil)

	now := time.Now()
	ok, err := repo.Claim(context.Background(), submission.ID, "token", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Complete(context.Background(), submission.ID, "other", GradeResult{Score: 5, Feedback: "x", Provider: "ML", GradedAt: now})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Model(&models.Submission{}).Where("id = ?", submission.ID).Update("human_score", 8).Error)
	ok, err = repo.Complete(context.Background(), submission.ID, "token", GradeResult{Score: 5, Feedback: "x", Provider: "ML", GradedAt: now})
	require.NoError(t, err)
	require.False(t, ok, "human score must never be overwritten")

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Nil(t, stored.AIScore)
	require.Equal(t, 8.0, *stored.HumanScore)
}

func TestSubmissionFailNullsAIFields(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	submission := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateFailed
		s.AIScore = floatPtr(3)
		s.AIFeedback = stringPtr("stale")
	})

	now := time.Now()
	ok, err := repo.Claim(context.Background(), submission.ID, "token", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Fail(context.Background(), submission.ID, "token", GradeFailure{Reason: "retrieval failed", Retryable: true})
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Nil(t, stored.AIScore)
	require.Nil(t, stored.AIFeedback)
	require.Equal(t, models.GradingStateFailed, stored.GradingState)
	require.Equal(t, "retrieval failed", *stored.FailureReason)
	require.True(t, stored.FailureRetry)
	require.Equal(t, 1, stored.GradingAttempts)
	require.Empty(t, stored.ClaimToken)
}

func TestSubmissionListPendingIDs(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)

	pending := seedSubmission(t, db, nil)
	retryable := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateFailed
		s.FailureRetry = true
		s.GradingAttempts = 1
	})
	seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateFailed
		s.FailureRetry = true
		s.GradingAttempts = 3
	})
	seedSubmission(t, db, func(s *models.Submission) { s.GradingState = models.GradingStateFailed })
	seedSubmission(t, db, func(s *models.Submission) { s.HumanScore = floatPtr(10) })
	seedSubmission(t, db, func(s *models.Submission) { s.GradingState = models.GradingStateGraded })

	ids, err := repo.ListPendingIDs(context.Background(), PendingFilter{Limit: 10, MaxAttempts: 3, StaleBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Equal(t, []uint{pending.ID, retryable.ID}, ids)
}

func TestSubmissionClearErrorFeedback(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	markers := [][]string{{"ไม่สามารถตรวจไฟล์ PDF"}, {"Cannot", "PDF"}}

	thai := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateGraded
		s.AIScore = floatPtr(0)
		s.AIFeedback = stringPtr("ขออภัย ไม่สามารถตรวจไฟล์ PDF นี้ได้")
	})
	english := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateGraded
		s.AIFeedback = stringPtr("Cannot read the PDF attachment")
	})
	finalized := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateGraded
		s.HumanScore = floatPtr(6)
		s.AIFeedback = stringPtr("ไม่สามารถตรวจไฟล์ PDF")
	})
	partial := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateGraded
		s.AIFeedback = stringPtr("Cannot fault the argument, well done")
	})
	failed := seedSubmission(t, db, func(s *models.Submission) {
		s.GradingState = models.GradingStateFailed
		s.FailureReason = stringPtr("provider unreachable")
		s.FailureRetry = true
		s.GradingAttempts = 2
	})
	permanent := seedSubmission(t, db, func(s *models.Submission) {
		s.FileName = "essay.docx"
		s.GradingState = models.GradingStateFailed
		s.FailureReason = stringPtr("not_a_pdf: artifact is not a PDF")
		s.FailureRetry = false
		s.GradingAttempts = 1
	})

	found, err := repo.FindErrorFeedback(context.Background(), markers)
	require.NoError(t, err)
	foundIDs := make([]uint, 0, len(found))
	for _, s := range found {
		foundIDs = append(foundIDs, s.ID)
	}
	require.Equal(t, []uint{thai.ID, english.ID, failed.ID}, foundIDs)

	cleared, err := repo.ClearErrorFeedback(context.Background(), markers)
	require.NoError(t, err)
	require.Equal(t, foundIDs, cleared)

	stored, err := repo.GetByID(context.Background(), thai.ID)
	require.NoError(t, err)
	require.Nil(t, stored.AIScore)
	require.Nil(t, stored.AIFeedback)
	require.Equal(t, models.GradingStatePending, stored.GradingState)

	stored, err = repo.GetByID(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Nil(t, stored.FailureReason)
	require.Zero(t, stored.GradingAttempts)

	stored, err = repo.GetByID(context.Background(), finalized.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AIFeedback)

	stored, err = repo.GetByID(context.Background(), partial.ID)
	require.NoError(t, err)
	require.Equal(t, models.GradingStateGraded, stored.GradingState)

	stored, err = repo.GetByID(context.Background(), permanent.ID)
	require.NoError(t, err)
	require.Equal(t, models.GradingStateFailed, stored.GradingState)
	require.Equal(t, 1, stored.GradingAttempts)
	require.NotNil(t, stored.FailureReason)
}

func TestSubmissionCompletePersistsVerdictColumns(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)
	submission := seedSubmission(t, db, nil)

	columns, err := db.Migrator().ColumnTypes(&models.Submission{})
	require.NoError(t, err)
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name())
	}
	require.Contains(t, names, "ai_score")
	require.Contains(t, names, "ai_feedback")
	require.Contains(t, names, "ai_provider")

	now := time.Now()
	ok, err := repo.Claim(context.Background(), submission.ID, "token", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Complete(context.Background(), submission.ID, "token", GradeResult{Score: 7, Feedback: "solid", Provider: "GEMINI", GradedAt: now})
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, 7.0, *stored.AIScore)
	require.Equal(t, "solid", *stored.AIFeedback)
	require.Equal(t, "GEMINI", stored.AIProvider)
	require.Equal(t, models.GradingStateGraded, stored.GradingState)
}

func TestSubmissionListForLearnerScopesCourse(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewSubmissionRepository(db)

	inCourse := models.Assessment{CourseID: 1, Kind: models.AssessmentKindQuiz, Category: "quiz", Title: "Q1", MaxScore: 10}
	otherCourse := models.Assessment{CourseID: 2, Kind: models.AssessmentKindQuiz, Category: "quiz", Title: "Q2", MaxScore: 10}
	require.NoError(t, db.Create(&inCourse).Error)
	require.NoError(t, db.Create(&otherCourse).Error)

	mine := seedSubmission(t, db, func(s *models.Submission) { s.AssessmentID = inCourse.ID })
	seedSubmission(t, db, func(s *models.Submission) { s.AssessmentID = otherCourse.ID })
	seedSubmission(t, db, func(s *models.Submission) { s.AssessmentID = inCourse.ID; s.LearnerID = 99 })

	submissions, err := repo.ListForLearner(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, submissions, 1)
	require.Equal(t, mine.ID, submissions[0].ID)
}

func TestTrainingDataUpsertMergesWithoutNulling(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewTrainingDataRepository(db)
	ctx := context.Background()

	first := &models.TrainingDataRecord{
		SourceType:    models.SourceTypeExam,
		SourceID:      42,
		Question:      stringPtr("Explain osmosis"),
		Answer:        stringPtr("Water moves"),
		AIScore:       floatPtr(6),
		AIFeedback:    stringPtr("partial"),
		HumanScore:    floatPtr(8),
		HumanFeedback: stringPtr("good"),
		MaxScore:      floatPtr(10),
	}
	require.NoError(t, repo.Upsert(ctx, first))

	_, err := repo.MarkUsed(ctx, []uint{first.ID})
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, &models.TrainingDataRecord{
		SourceType: models.SourceTypeExam,
		SourceID:   42,
		Question:   stringPtr(""),
		AIScore:    floatPtr(7),
		AIFeedback: stringPtr("revised"),
	}))

	record, err := repo.GetBySource(ctx, models.SourceTypeExam, 42)
	require.NoError(t, err)
	require.Equal(t, "Explain osmosis", *record.Question)
	require.Equal(t, "Water moves", *record.Answer)
	require.Equal(t, 7.0, *record.AIScore)
	require.Equal(t, "revised", *record.AIFeedback)
	require.Equal(t, 8.0, *record.HumanScore)
	require.Equal(t, "good", *record.HumanFeedback)
	require.Equal(t, 10.0, *record.MaxScore)
	require.True(t, record.UsedForTraining)

	var count int64
	require.NoError(t, db.Model(&models.TrainingDataRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestTrainingDataListReviewedAndMarkUsed(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewTrainingDataRepository(db)
	ctx := context.Background()
	school := uint(3)

	reviewed := &models.TrainingDataRecord{SourceType: "exam", SourceID: 1, HumanScore: floatPtr(5), HumanFeedback: stringPtr("ok"), SchoolID: &school}
	newer := &models.TrainingDataRecord{SourceType: "exam", SourceID: 2, HumanScore: floatPtr(4), HumanFeedback: stringPtr("fine"), SchoolID: &school}
	scoreOnly := &models.TrainingDataRecord{SourceType: "exam", SourceID: 3, HumanScore: floatPtr(4), SchoolID: &school}
	otherSchool := &models.TrainingDataRecord{SourceType: "exam", SourceID: 4, HumanScore: floatPtr(4), HumanFeedback: stringPtr("x")}
	for _, record := range []*models.TrainingDataRecord{reviewed, newer, scoreOnly, otherSchool} {
		require.NoError(t, repo.Upsert(ctx, record))
	}
	require.NoError(t, db.Model(&models.TrainingDataRecord{}).Where("id = ?", reviewed.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	records, err := repo.ListReviewed(ctx, 0, &school)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, newer.ID, records[0].ID)
	require.Equal(t, reviewed.ID, records[1].ID)

	all, err := repo.ListReviewed(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	ids := []uint{reviewed.ID, newer.ID}
	for i := 0; i < 2; i++ {
		_, err := repo.MarkUsed(ctx, ids)
		require.NoError(t, err)

		var used int64
		require.NoError(t, db.Model(&models.TrainingDataRecord{}).Where("id IN ? AND used_for_training = ?", ids, true).Count(&used).Error)
		require.Equal(t, int64(2), used)
	}

	affected, err := repo.MarkUsed(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestGradingPolicyReplace(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewGradingPolicyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, &models.GradingPolicy{
		CourseID:   5,
		SystemType: models.GradingSystemGrade,
		Criteria:   []models.GradeCriterion{{Grade: "A", MinScore: 80}, {Grade: "F", MinScore: 0}},
		Weights:    []models.GradeWeight{{Category: "quiz", Weight: 100}},
	}))

	require.NoError(t, repo.Replace(ctx, &models.GradingPolicy{
		CourseID:     5,
		SystemType:   models.GradingSystemPassFail,
		PassingScore: floatPtr(60),
		Weights:      []models.GradeWeight{{Category: "exam", Weight: 50}, {Category: "quiz", Weight: 50}},
	}))

	policy, err := repo.GetByCourse(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, models.GradingSystemPassFail, policy.SystemType)
	require.Empty(t, policy.Criteria)
	require.Len(t, policy.Weights, 2)

	var policies int64
	require.NoError(t, db.Model(&models.GradingPolicy{}).Count(&policies).Error)
	require.Equal(t, int64(1), policies)

	_, err = repo.GetByCourse(ctx, 6)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAISettingsGetSeparatesGlobalAndSchool(t *testing.T) {
	db := setupGradingTestDB(t)
	repo := NewAISettingsRepository(db)
	ctx := context.Background()
	school := uint(9)

	require.NoError(t, repo.Save(ctx, &models.AISettings{Provider: "GEMINI", Enabled: true}))
	require.NoError(t, repo.Save(ctx, &models.AISettings{SchoolID: &school, Provider: "ML", MLAPIURL: "http://ml", Enabled: false}))

	global, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "GEMINI", global.Provider)

	scoped, err := repo.Get(ctx, &school)
	require.NoError(t, err)
	require.Equal(t, "ML", scoped.Provider)
	require.False(t, scoped.Enabled)

	other := uint(10)
	_, err = repo.Get(ctx, &other)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
