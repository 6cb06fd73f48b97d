package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/blob"
	"github.com/noah-isme/gema-grading-api/pkg/pdftext"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceDB(t *testing.T) *gorm.DB {
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

var seq atomic.Uint32

func floatPtr(v float64) *float64 { return &v }

func stringPtr(v string) *string { return &v }

func uintPtr(v uint) *uint { return &v }

func seedAssessment(t *testing.T, db *gorm.DB, mutate func(*models.Assessment)) models.Assessment {
	t.Helper()
	assessment := models.Assessment{
		CourseID: 1,
		Kind:     models.AssessmentKindAssignment,
		Category: "assignment",
		Title:    "Essay on photosynthesis",
		MaxScore: 10,
	}
	if mutate != nil {
		mutate(&assessment)
	}
	require.NoError(t, db.Create(&assessment).Error)
	return assessment
}

func seedGradingSubmission(t *testing.T, db *gorm.DB, assessmentID uint, mutate func(*models.Submission)) models.Submission {
	t.Helper()
	submission := models.Submission{
		AssessmentID: assessmentID,
		LearnerID:    7,
		SourceType:   models.SourceTypeAssignment,
		SourceID:     uint(seq.Add(1)),
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

func reloadSubmission(t *testing.T, db *gorm.DB, id uint) models.Submission {
	t.Helper()
	var submission models.Submission
	require.NoError(t, db.First(&submission, id).Error)
	return submission
}

type stubFetcher struct {
	data    []byte
	err     error
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, ref blob.Reference) ([]byte, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(ctx context.Context, doc pdftext.Document) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

type scriptedScorer struct {
	name  ai.Provider
	calls atomic.Int32
	score func(ctx context.Context, req ai.ScoreRequest) (ai.ScoreResult, error)
}

func (s *scriptedScorer) Name() ai.Provider { return s.name }

func (s *scriptedScorer) Score(ctx context.Context, req ai.ScoreRequest) (ai.ScoreResult, error) {
	s.calls.Add(1)
	return s.score(ctx, req)
}

func fixedScorer(score float64, feedback string) *scriptedScorer {
	return &scriptedScorer{
		name: ai.ProviderGemini,
		score: func(ctx context.Context, req ai.ScoreRequest) (ai.ScoreResult, error) {
			return ai.ScoreResult{Score: score, Feedback: feedback, Provider: ai.ProviderGemini}, nil
		},
	}
}

type stubResolver struct {
	scorer ai.Scorer
	err    error
}

func (r stubResolver) ScorerFor(ctx context.Context, schoolID *uint) (ai.Scorer, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.scorer, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []GradingEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event GradingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) States() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]string, 0, len(p.events))
	for _, event := range p.events {
		states = append(states, event.State)
	}
	return states
}

func (p *recordingPublisher) Events() []GradingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]GradingEvent(nil), p.events...)
}
