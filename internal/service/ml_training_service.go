package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// Default training weights used until a school saves its own.
const (
	DefaultAIWeight      = 0.3
	DefaultTeacherWeight = 0.7

	minTrainingSamples  = 5
	maxTrainingSamples  = 1000
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	weightTolerance     = 0.01
)

var (
	// ErrInsufficientTrainingData indicates too few samples to start a training run.
	ErrInsufficientTrainingData = errors.New("not enough training samples")
	// ErrInvalidTrainingWeights indicates the AI and teacher weights do not sum to 1.
	ErrInvalidTrainingWeights = errors.New("ai and teacher weights must sum to 1")
)

// MLTrainingService retrains the fine-tuned scoring model from the reconciled dataset.
type MLTrainingService interface {
	Stats(ctx context.Context, schoolID *uint) (dto.MLTrainingStatsResponse, error)
	GetSettings(ctx context.Context, schoolID *uint) (dto.MLTrainingSettingsResponse, error)
	UpdateSettings(ctx context.Context, schoolID *uint, req dto.MLTrainingSettingsRequest) (dto.MLTrainingSettingsResponse, error)
	Train(ctx context.Context, schoolID *uint) (dto.MLTrainingRunResponse, error)
	History(ctx context.Context, schoolID *uint, limit int) ([]dto.MLTrainingRunResponse, error)
}

type mlTrainingService struct {
	records   repository.TrainingDataRepository
	runs      repository.MLTrainingRepository
	trainers  TrainerResolver
	validator *validator.Validate
	inflight  singleflight.Group
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewMLTrainingService constructs the training service.
func NewMLTrainingService(records repository.TrainingDataRepository, runs repository.MLTrainingRepository, trainers TrainerResolver, validator *validator.Validate, logger zerolog.Logger) MLTrainingService {
	return &mlTrainingService{
		records:   records,
		runs:      runs,
		trainers:  trainers,
		validator: validator,
		logger:    logger.With().Str("component", "ml_training_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/ml_training"),
	}
}

func (s *mlTrainingService) Stats(ctx context.Context, schoolID *uint) (dto.MLTrainingStatsResponse, error) {
	stats, err := s.records.Stats(ctx, schoolID)
	if err != nil {
		return dto.MLTrainingStatsResponse{}, err
	}

	response := dto.MLTrainingStatsResponse{
		TotalSamples:       stats.Total,
		SamplesWithAI:      stats.WithAI,
		SamplesWithTeacher: stats.WithTeacher,
		SamplesUsed:        stats.Used,
	}

	last, err := s.runs.LastCompletedRun(ctx, schoolID)
	switch {
	case err == nil:
		createdAt := last.CreatedAt
		response.LastTrainingAt = &createdAt
		response.LastTrainingAccuracy = last.Accuracy
		response.LastTrainingMSE = last.MSE
		response.LastTrainingMAE = last.MAE
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return dto.MLTrainingStatsResponse{}, err
	}

	return response, nil
}

// GetSettings returns the stored weights or the defaults. Reading never creates a row.
func (s *mlTrainingService) GetSettings(ctx context.Context, schoolID *uint) (dto.MLTrainingSettingsResponse, error) {
	row, found, err := s.settings(ctx, schoolID)
	if err != nil {
		return dto.MLTrainingSettingsResponse{}, err
	}

	return dto.MLTrainingSettingsResponse{
		SchoolID:      schoolID,
		AIWeight:      row.AIWeight,
		TeacherWeight: row.TeacherWeight,
		Configured:    found,
	}, nil
}

func (s *mlTrainingService) settings(ctx context.Context, schoolID *uint) (models.MLTrainingSettings, bool, error) {
	row, err := s.runs.GetSettings(ctx, schoolID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MLTrainingSettings{SchoolID: schoolID, AIWeight: DefaultAIWeight, TeacherWeight: DefaultTeacherWeight}, false, nil
		}
		return models.MLTrainingSettings{}, false, err
	}
	return row, true, nil
}

func (s *mlTrainingService) UpdateSettings(ctx context.Context, schoolID *uint, req dto.MLTrainingSettingsRequest) (dto.MLTrainingSettingsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MLTrainingSettingsResponse{}, err
	}
	if math.Abs(*req.AIWeight+*req.TeacherWeight-1) > weightTolerance {
		return dto.MLTrainingSettingsResponse{}, ErrInvalidTrainingWeights
	}

	row, _, err := s.settings(ctx, schoolID)
	if err != nil {
		return dto.MLTrainingSettingsResponse{}, err
	}
	row.AIWeight = *req.AIWeight
	row.TeacherWeight = *req.TeacherWeight
	if err := s.runs.SaveSettings(ctx, &row); err != nil {
		return dto.MLTrainingSettingsResponse{}, err
	}

	s.logger.Info().
		Interface("school_id", schoolID).
		Float64("ai_weight", row.AIWeight).
		Float64("teacher_weight", row.TeacherWeight).
		Msg("ml training weights updated")

	return dto.MLTrainingSettingsResponse{
		SchoolID:      schoolID,
		AIWeight:      row.AIWeight,
		TeacherWeight: row.TeacherWeight,
		Configured:    true,
	}, nil
}

// Train sends the weighted dataset to the fine-tuned service and records the run. Every attempt
// that gets past loading the weights leaves a history entry, failed or completed. Concurrent
// requests for the same school share one run.
func (s *mlTrainingService) Train(ctx context.Context, schoolID *uint) (dto.MLTrainingRunResponse, error) {
	result, err, _ := s.inflight.Do(cacheKey(schoolID), func() (interface{}, error) {
		return s.train(ctx, schoolID)
	})
	run, _ := result.(dto.MLTrainingRunResponse)
	return run, err
}

func (s *mlTrainingService) train(ctx context.Context, schoolID *uint) (dto.MLTrainingRunResponse, error) {
	ctx, span := s.tracer.Start(ctx, "ml_training.train")
	defer span.End()

	weights, _, err := s.settings(ctx, schoolID)
	if err != nil {
		span.RecordError(err)
		return dto.MLTrainingRunResponse{}, err
	}

	run := models.MLTrainingRun{
		SchoolID:      schoolID,
		AIWeight:      weights.AIWeight,
		TeacherWeight: weights.TeacherWeight,
	}

	report, records, trainErr := s.runTraining(ctx, schoolID, weights)
	if trainErr != nil {
		span.RecordError(trainErr)
		span.SetStatus(codes.Error, "training_failed")
		message := trainErr.Error()
		run.Status = models.TrainingRunFailed
		run.ErrorMessage = &message
	} else {
		run.Status = models.TrainingRunCompleted
		run.Accuracy = report.Accuracy
		run.MSE = report.MSE
		run.MAE = report.MAE
		run.Samples = len(records)
		if report.Samples != nil {
			run.Samples = *report.Samples
		}
	}

	if err := s.runs.CreateRun(ctx, &run); err != nil {
		s.logger.Error().Err(err).Str("status", run.Status).Msg("failed to record ml training run")
		if trainErr == nil {
			return dto.MLTrainingRunResponse{}, err
		}
	}
	observability.MLTrainingRuns().WithLabelValues(run.Status).Inc()

	if trainErr != nil {
		s.logger.Warn().Err(trainErr).Interface("school_id", schoolID).Msg("ml training failed")
		return dto.NewMLTrainingRunResponse(run), trainErr
	}

	ids := make([]uint, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	if _, err := s.records.MarkUsed(ctx, ids); err != nil {
		s.logger.Warn().Err(err).Int("records", len(ids)).Msg("failed to mark training data as used")
	}

	span.SetAttributes(attribute.Int("samples", run.Samples))
	s.logger.Info().
		Interface("school_id", schoolID).
		Int("samples", run.Samples).
		Msg("ml training completed")
	return dto.NewMLTrainingRunResponse(run), nil
}

func (s *mlTrainingService) runTraining(ctx context.Context, schoolID *uint, weights models.MLTrainingSettings) (ai.TrainingReport, []models.TrainingDataRecord, error) {
	trainer, err := s.trainers.TrainerFor(ctx, schoolID)
	if err != nil {
		return ai.TrainingReport{}, nil, err
	}

	records, err := s.records.ListTrainable(ctx, maxTrainingSamples, schoolID)
	if err != nil {
		return ai.TrainingReport{}, nil, err
	}
	if len(records) < minTrainingSamples {
		return ai.TrainingReport{}, nil, fmt.Errorf("%w: found %d, need at least %d", ErrInsufficientTrainingData, len(records), minTrainingSamples)
	}

	samples := make([]ai.TrainingSample, 0, len(records))
	for _, record := range records {
		samples = append(samples, trainingSample(record, weights))
	}

	started := time.Now()
	report, err := trainer.Train(ctx, samples)
	if err != nil {
		return ai.TrainingReport{}, nil, err
	}
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("ml service finished training")

	return report, records, nil
}

func trainingSample(record models.TrainingDataRecord, weights models.MLTrainingSettings) ai.TrainingSample {
	sample := ai.TrainingSample{
		AIScore:      record.AIScore,
		TeacherScore: trainingTarget(record, weights),
	}
	if record.Question != nil {
		sample.Question = *record.Question
	}
	if record.Answer != nil {
		sample.Answer = *record.Answer
	}
	if record.AIFeedback != nil {
		sample.AIFeedback = *record.AIFeedback
	}
	if record.HumanFeedback != nil {
		sample.TeacherFeedback = *record.HumanFeedback
	}
	return sample
}

// trainingTarget blends the two scores only when they disagree; otherwise whichever exists wins,
// teacher first.
func trainingTarget(record models.TrainingDataRecord, weights models.MLTrainingSettings) float64 {
	switch {
	case record.AIScore != nil && record.HumanScore != nil:
		aiScore, humanScore := *record.AIScore, *record.HumanScore
		if aiScore == humanScore {
			return humanScore
		}
		return weights.AIWeight*aiScore + weights.TeacherWeight*humanScore
	case record.HumanScore != nil:
		return *record.HumanScore
	case record.AIScore != nil:
		return *record.AIScore
	default:
		return 0
	}
}

func (s *mlTrainingService) History(ctx context.Context, schoolID *uint, limit int) ([]dto.MLTrainingRunResponse, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	runs, err := s.runs.ListRuns(ctx, schoolID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]dto.MLTrainingRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, dto.NewMLTrainingRunResponse(run))
	}
	return items, nil
}
