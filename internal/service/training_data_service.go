package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

const syncBatchSize = 500

// TrainingEntry is one grading observation offered to the training data store.
type TrainingEntry struct {
	Question      string
	Answer        string
	AIScore       *float64
	AIFeedback    *string
	HumanScore    *float64
	HumanFeedback *string
	MaxScore      *float64
	SourceType    string
	SourceID      uint
	SchoolID      *uint
}

// TrainingRecorder receives grading observations on a best-effort basis.
type TrainingRecorder interface {
	Record(ctx context.Context, entry TrainingEntry)
}

// TrainingDataService maintains the reconciled AI/human grading dataset.
type TrainingDataService interface {
	TrainingRecorder
	FetchForTraining(ctx context.Context, limit int, schoolID *uint) ([]dto.TrainingDataItem, error)
	MarkUsed(ctx context.Context, ids []uint) (dto.MarkUsedResponse, error)
	SyncExisting(ctx context.Context, schoolID *uint) (dto.TrainingSyncResponse, error)
}

type trainingDataService struct {
	repo        repository.TrainingDataRepository
	submissions repository.SubmissionRepository
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewTrainingDataService constructs the training data service.
func NewTrainingDataService(repo repository.TrainingDataRepository, submissions repository.SubmissionRepository, logger zerolog.Logger) TrainingDataService {
	return &trainingDataService{
		repo:        repo,
		submissions: submissions,
		logger:      logger.With().Str("component", "training_data_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/training_data"),
	}
}

// Record upserts the entry. Failures are logged and counted, never returned.
func (s *trainingDataService) Record(ctx context.Context, entry TrainingEntry) {
	if err := s.upsert(ctx, entry); err != nil {
		observability.TrainingRecords().WithLabelValues("error").Inc()
		s.logger.Error().Err(err).
			Str("source_type", entry.SourceType).
			Uint("source_id", entry.SourceID).
			Msg("failed to record training data")
		return
	}

	observability.TrainingRecords().WithLabelValues("ok").Inc()
	s.logger.Debug().Str("source_type", entry.SourceType).Uint("source_id", entry.SourceID).Msg("training data recorded")
}

func (s *trainingDataService) upsert(ctx context.Context, entry TrainingEntry) error {
	if strings.TrimSpace(entry.SourceType) == "" || entry.SourceID == 0 {
		return fmt.Errorf("training entry requires a source")
	}

	ctx, span := s.tracer.Start(ctx, "training_data.record", trace.WithAttributes(
		attribute.String("source_type", entry.SourceType),
		attribute.Int("source_id", int(entry.SourceID)),
	))
	defer span.End()

	record := models.TrainingDataRecord{
		SourceType:    entry.SourceType,
		SourceID:      entry.SourceID,
		Question:      optionalText(entry.Question),
		Answer:        optionalText(entry.Answer),
		AIScore:       entry.AIScore,
		AIFeedback:    entry.AIFeedback,
		HumanScore:    entry.HumanScore,
		HumanFeedback: entry.HumanFeedback,
		MaxScore:      entry.MaxScore,
		SchoolID:      entry.SchoolID,
	}
	if err := s.repo.Upsert(ctx, &record); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *trainingDataService) FetchForTraining(ctx context.Context, limit int, schoolID *uint) ([]dto.TrainingDataItem, error) {
	records, err := s.repo.ListReviewed(ctx, limit, schoolID)
	if err != nil {
		return nil, err
	}

	items := make([]dto.TrainingDataItem, 0, len(records))
	for _, record := range records {
		items = append(items, dto.NewTrainingDataItem(record))
	}
	return items, nil
}

func (s *trainingDataService) MarkUsed(ctx context.Context, ids []uint) (dto.MarkUsedResponse, error) {
	updated, err := s.repo.MarkUsed(ctx, ids)
	if err != nil {
		return dto.MarkUsedResponse{}, err
	}

	s.logger.Info().Int("requested", len(ids)).Int64("updated", updated).Msg("training data marked as used")
	return dto.MarkUsedResponse{Requested: len(ids), Updated: updated}, nil
}

// SyncExisting backfills records for AI-graded submissions that predate the recorder.
func (s *trainingDataService) SyncExisting(ctx context.Context, schoolID *uint) (dto.TrainingSyncResponse, error) {
	var summary dto.TrainingSyncResponse
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch, err := s.submissions.ListUnrecorded(ctx, schoolID, syncBatchSize)
		if err != nil {
			return summary, err
		}
		if len(batch) == 0 {
			break
		}

		for _, submission := range batch {
			if err := s.upsert(ctx, backfillEntry(submission)); err != nil {
				return summary, fmt.Errorf("sync submission %d: %w", submission.ID, err)
			}
			if submission.SourceType == models.SourceTypeExam {
				summary.ExamSynced++
			} else {
				summary.AssignmentSynced++
			}
		}
	}

	s.logger.Info().
		Int("exam_synced", summary.ExamSynced).
		Int("assignment_synced", summary.AssignmentSynced).
		Msg("training data sync finished")
	return summary, nil
}

func backfillEntry(submission models.Submission) TrainingEntry {
	question := submission.Question
	if question == "" && submission.Assessment != nil {
		question = submission.Assessment.GradingPrompt()
	}
	answer := "submitted file"
	if submission.FileName != "" {
		answer = "submitted file: " + submission.FileName
	}
	maxScore := submission.MaxScore

	return TrainingEntry{
		Question:      question,
		Answer:        answer,
		AIScore:       submission.AIScore,
		AIFeedback:    submission.AIFeedback,
		HumanScore:    submission.HumanScore,
		HumanFeedback: submission.HumanFeedback,
		MaxScore:      &maxScore,
		SourceType:    submission.SourceType,
		SourceID:      submission.SourceID,
		SchoolID:      submission.SchoolID,
	}
}

func optionalText(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
