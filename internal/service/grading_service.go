package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/blob"
	"github.com/noah-isme/gema-grading-api/pkg/pdftext"
)

// Outcome states reported per submission.
const (
	OutcomeGraded   = "graded"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeReleased = "released"
)

// Skip and failure reasons.
const (
	ReasonFinalized            = "finalized"
	ReasonConfigurationMissing = "configuration_missing"
	ReasonInFlight             = "in_flight"
	ReasonAlreadyGraded        = "already_graded"
	ReasonPermanentFailure     = "permanent_failure"
	ReasonLeaseLost            = "lease_lost"
	ReasonCancelled            = "cancelled"
	ReasonTooLarge             = "artifact_too_large"
	ReasonUnsupportedReference = "unsupported_reference"
	ReasonRetrievalFailed      = "retrieval_failed"
	ReasonNotAPDF              = "not_a_pdf"
	ReasonExtractionFailed     = "extraction_failed"
	ReasonExtractionDown       = "extraction_unavailable"
	ReasonEmptyText            = "empty_text"
	ReasonProviderUnreachable  = "provider_unreachable"
	ReasonProviderInvalid      = "provider_invalid_response"
	ReasonInternal             = "internal_error"
)

var (
	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")

	errEmptyText = errors.New("extracted text is empty")
)

// DefaultErrorMarkers match feedback left behind by failed extractions.
var DefaultErrorMarkers = [][]string{
	{"ไม่สามารถตรวจไฟล์ PDF"},
	{"ไม่สามารถเข้าถึงหรืออ่านเนื้อหาจากไฟล์ภายนอก"},
	{"Cannot", "PDF"},
	{"PDF", "ไม่สามารถ"},
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ArtifactFetcher resolves a submission reference to raw bytes.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, ref blob.Reference) ([]byte, error)
}

// TextExtractor turns a PDF artifact into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, doc pdftext.Document) (string, error)
}

// GradingConfig tunes the orchestrator.
type GradingConfig struct {
	// Lease bounds how long a claim is honoured before another worker may reclaim it.
	Lease        time.Duration
	MaxAttempts  int
	Concurrency  int
	ErrorMarkers [][]string
}

// GradingService drives submissions through retrieval, extraction, and scoring.
type GradingService interface {
	Grade(ctx context.Context, submissionID uint) (dto.GradingOutcomeResponse, error)
	GradePending(ctx context.Context, limit int) (dto.BatchGradingResponse, error)
	ClearErrorFeedback(ctx context.Context, dryRun bool) (dto.ClearErrorFeedbackResponse, error)
}

type gradingService struct {
	repo      repository.SubmissionRepository
	fetcher   ArtifactFetcher
	extractor TextExtractor
	resolver  ScorerResolver
	recorder  TrainingRecorder
	events    GradingEventPublisher
	redis     *redis.Client
	cfg       GradingConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradingService wires the orchestrator. redis and events may be nil.
func NewGradingService(repo repository.SubmissionRepository, fetcher ArtifactFetcher, extractor TextExtractor, resolver ScorerResolver, recorder TrainingRecorder, events GradingEventPublisher, redisClient *redis.Client, cfg GradingConfig, logger zerolog.Logger) GradingService {
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ErrorMarkers == nil {
		cfg.ErrorMarkers = DefaultErrorMarkers
	}

	return &gradingService{
		repo:      repo,
		fetcher:   fetcher,
		extractor: extractor,
		resolver:  resolver,
		recorder:  recorder,
		events:    events,
		redis:     redisClient,
		cfg:       cfg,
		logger:    logger.With().Str("component", "grading_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID uint) (dto.GradingOutcomeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade", trace.WithAttributes(attribute.Int("submission_id", int(submissionID))))
	defer span.End()

	outcome, err := s.grade(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.GradingOutcomeResponse{}, err
	}

	span.SetAttributes(attribute.String("outcome", outcome.State), attribute.String("reason", outcome.Reason))
	observability.GradingOutcomes().WithLabelValues(outcome.State, outcome.Reason).Inc()
	return outcome, nil
}

func (s *gradingService) grade(ctx context.Context, submissionID uint) (dto.GradingOutcomeResponse, error) {
	logCtx := s.logger.With().Uint("submission_id", submissionID)
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		logCtx = logCtx.Str("correlation_id", correlation)
	}
	logger := logCtx.Logger()
	skip := func(reason string) (dto.GradingOutcomeResponse, error) {
		logger.Debug().Str("reason", reason).Msg("grading skipped")
		return dto.GradingOutcomeResponse{SubmissionID: submissionID, State: OutcomeSkipped, Reason: reason}, nil
	}

	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return dto.GradingOutcomeResponse{}, err
	}
	if reason, ok := unclaimableReason(submission); ok {
		return skip(reason)
	}

	scorer, err := s.resolver.ScorerFor(ctx, submission.SchoolID)
	if err != nil {
		if errors.Is(err, ai.ErrConfigurationMissing) {
			return skip(ReasonConfigurationMissing)
		}
		return dto.GradingOutcomeResponse{}, fmt.Errorf("resolve scorer: %w", err)
	}

	token := uuid.NewString()
	locked, unlock := s.lock(ctx, submissionID, token)
	if !locked {
		return skip(ReasonInFlight)
	}
	defer unlock()

	now := s.now()
	claimed, err := s.repo.Claim(ctx, submissionID, token, now, now.Add(-s.cfg.Lease))
	if err != nil {
		return dto.GradingOutcomeResponse{}, fmt.Errorf("claim submission: %w", err)
	}
	if !claimed {
		current, err := s.load(ctx, submissionID)
		if err != nil {
			return dto.GradingOutcomeResponse{}, err
		}
		if reason, ok := unclaimableReason(current); ok {
			return skip(reason)
		}
		return skip(ReasonInFlight)
	}

	observability.GradingInFlight().Inc()
	defer observability.GradingInFlight().Dec()

	logger.Info().Str("provider", string(scorer.Name())).Msg("grading started")

	timings := map[string]interface{}{}
	result, runErr := s.run(ctx, submission, scorer, token, timings)

	// Writes after this point must survive a cancelled request context.
	writeCtx := context.WithoutCancel(ctx)

	if runErr != nil && ctx.Err() != nil {
		if err := s.repo.Release(writeCtx, submissionID, token); err != nil {
			logger.Error().Err(err).Msg("failed to release claim after cancellation")
		}
		logger.Warn().Err(runErr).Msg("grading interrupted; claim released")
		return dto.GradingOutcomeResponse{SubmissionID: submissionID, State: OutcomeReleased, Reason: ReasonCancelled, Retryable: true}, nil
	}

	if runErr != nil {
		return s.fail(writeCtx, logger, submission, token, runErr, timings)
	}
	return s.complete(writeCtx, logger, submission, token, result, timings)
}

func (s *gradingService) load(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.repo.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func unclaimableReason(submission models.Submission) (string, bool) {
	switch {
	case submission.IsFinalized():
		return ReasonFinalized, true
	case submission.GradingState == models.GradingStateGraded:
		return ReasonAlreadyGraded, true
	case submission.GradingState == models.GradingStateFailed && !submission.FailureRetry:
		return ReasonPermanentFailure, true
	}
	return "", false
}

// lock takes the optional cross-process lock. Redis errors degrade to the database claim alone.
func (s *gradingService) lock(ctx context.Context, submissionID uint, token string) (bool, func()) {
	if s.redis == nil {
		return true, func() {}
	}

	key := "grading:lock:" + strconv.FormatUint(uint64(submissionID), 10)
	ok, err := s.redis.SetNX(ctx, key, token, s.cfg.Lease).Result()
	if err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("grading lock unavailable; relying on database claim")
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}

	return true, func() {
		if err := releaseLockScript.Run(context.WithoutCancel(ctx), s.redis, []string{key}, token).Err(); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("failed to release grading lock")
		}
	}
}

func (s *gradingService) run(ctx context.Context, submission models.Submission, scorer ai.Scorer, token string, timings map[string]interface{}) (ai.ScoreResult, error) {
	if !pdftext.HasPDFSuffix(submission.Names()...) {
		return ai.ScoreResult{}, pdftext.ErrNotAPDF
	}

	var data []byte
	err := s.stage(ctx, models.GradingStateRetrieving, timings, func(ctx context.Context) error {
		var err error
		data, err = s.fetcher.Fetch(ctx, blob.Reference{URL: submission.FileURL, StorageKey: submission.StorageKey})
		return err
	})
	if err != nil {
		return ai.ScoreResult{}, err
	}

	if err := s.repo.UpdateState(ctx, submission.ID, token, models.GradingStateExtracting); err != nil {
		return ai.ScoreResult{}, err
	}

	var text string
	err = s.stage(ctx, models.GradingStateExtracting, timings, func(ctx context.Context) error {
		var err error
		text, err = s.extractor.Extract(ctx, pdftext.Document{Names: submission.Names(), Data: data})
		return err
	})
	if err != nil {
		return ai.ScoreResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return ai.ScoreResult{}, errEmptyText
	}

	if err := s.repo.UpdateState(ctx, submission.ID, token, models.GradingStateScoring); err != nil {
		return ai.ScoreResult{}, err
	}

	var result ai.ScoreResult
	err = s.stage(ctx, models.GradingStateScoring, timings, func(ctx context.Context) error {
		var err error
		result, err = scorer.Score(ctx, ai.ScoreRequest{
			Question: question(submission),
			Answer:   text,
			MaxScore: maxScore(submission),
		})
		return err
	})
	return result, err
}

func (s *gradingService) stage(ctx context.Context, name string, timings map[string]interface{}, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "grading."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	observability.GradingStageDuration().WithLabelValues(name).Observe(elapsed.Seconds())
	timings[name+"_ms"] = elapsed.Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *gradingService) complete(ctx context.Context, logger zerolog.Logger, submission models.Submission, token string, result ai.ScoreResult, timings map[string]interface{}) (dto.GradingOutcomeResponse, error) {
	metadata := datatypes.JSONMap{
		"timings":        timings,
		"attempts":       result.Attempts,
		"adjusted":       result.Adjusted,
		"low_confidence": result.LowConfidence,
	}
	if result.Confidence != nil {
		metadata["confidence"] = *result.Confidence
	}

	gradedAt := s.now()
	written, err := s.repo.Complete(ctx, submission.ID, token, repository.GradeResult{
		Score:    result.Score,
		Feedback: result.Feedback,
		Provider: string(result.Provider),
		Metadata: metadata,
		GradedAt: gradedAt,
	})
	if err != nil {
		return dto.GradingOutcomeResponse{}, fmt.Errorf("persist grade: %w", err)
	}
	if !written {
		// A teacher graded the submission or the lease moved on while scoring.
		if err := s.repo.Release(ctx, submission.ID, token); err != nil {
			logger.Warn().Err(err).Msg("failed to release claim after lost write")
		}
		reason := ReasonLeaseLost
		if current, err := s.load(ctx, submission.ID); err == nil && current.IsFinalized() {
			reason = ReasonFinalized
		}
		logger.Warn().Str("reason", reason).Msg("grade not persisted")
		return dto.GradingOutcomeResponse{SubmissionID: submission.ID, State: OutcomeSkipped, Reason: reason}, nil
	}

	score := result.Score
	feedback := result.Feedback
	limit := maxScore(submission)
	s.recorder.Record(ctx, TrainingEntry{
		Question:      question(submission),
		Answer:        answerSummary(submission),
		AIScore:       &score,
		AIFeedback:    &feedback,
		HumanScore:    submission.HumanScore,
		HumanFeedback: submission.HumanFeedback,
		MaxScore:      &limit,
		SourceType:    submission.SourceType,
		SourceID:      submission.SourceID,
		SchoolID:      submission.SchoolID,
	})

	s.publish(ctx, logger, GradingEvent{
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		LearnerID:    submission.LearnerID,
		SchoolID:     submission.SchoolID,
		State:        OutcomeGraded,
		Score:        &score,
		Provider:     string(result.Provider),
		OccurredAt:   gradedAt,
	})

	logger.Info().
		Str("provider", string(result.Provider)).
		Float64("score", result.Score).
		Bool("adjusted", result.Adjusted).
		Bool("low_confidence", result.LowConfidence).
		Msg("submission graded")

	return dto.GradingOutcomeResponse{
		SubmissionID:  submission.ID,
		State:         OutcomeGraded,
		Provider:      string(result.Provider),
		Score:         &score,
		Adjusted:      result.Adjusted,
		LowConfidence: result.LowConfidence,
	}, nil
}

func (s *gradingService) fail(ctx context.Context, logger zerolog.Logger, submission models.Submission, token string, cause error, timings map[string]interface{}) (dto.GradingOutcomeResponse, error) {
	reason, retryable := classifyFailure(cause)
	metadata := datatypes.JSONMap{
		"timings": timings,
		"error":   cause.Error(),
	}
	var chainErr *ai.ChainError
	if errors.As(cause, &chainErr) {
		metadata["attempts"] = chainErr.Attempts
	}

	written, err := s.repo.Fail(ctx, submission.ID, token, repository.GradeFailure{
		Reason:    fmt.Sprintf("%s: %v", reason, cause),
		Retryable: retryable,
		Metadata:  metadata,
	})
	if err != nil {
		return dto.GradingOutcomeResponse{}, fmt.Errorf("persist failure: %w", err)
	}
	if !written {
		if err := s.repo.Release(ctx, submission.ID, token); err != nil {
			logger.Warn().Err(err).Msg("failed to release claim after lost write")
		}
		return dto.GradingOutcomeResponse{SubmissionID: submission.ID, State: OutcomeSkipped, Reason: ReasonLeaseLost}, nil
	}

	s.publish(ctx, logger, GradingEvent{
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		LearnerID:    submission.LearnerID,
		SchoolID:     submission.SchoolID,
		State:        OutcomeFailed,
		Reason:       reason,
		OccurredAt:   s.now(),
	})

	logger.Warn().Err(cause).Str("reason", reason).Bool("retryable", retryable).Msg("grading failed")
	return dto.GradingOutcomeResponse{
		SubmissionID: submission.ID,
		State:        OutcomeFailed,
		Reason:       reason,
		Retryable:    retryable,
	}, nil
}

func (s *gradingService) publish(ctx context.Context, logger zerolog.Logger, event GradingEvent) {
	if s.events == nil {
		return
	}
	event.CorrelationID = middleware.CorrelationIDFromContext(ctx)
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("failed to publish grading event")
	}
}

func classifyFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		return ReasonTooLarge, false
	case errors.Is(err, blob.ErrUnsupportedReference):
		return ReasonUnsupportedReference, false
	case errors.Is(err, blob.ErrRetrievalFailed):
		return ReasonRetrievalFailed, true
	case errors.Is(err, pdftext.ErrNotAPDF):
		return ReasonNotAPDF, false
	case errors.Is(err, pdftext.ErrExtractionUnavailable):
		return ReasonExtractionDown, true
	case errors.Is(err, pdftext.ErrExtractionFailed):
		return ReasonExtractionFailed, false
	case errors.Is(err, errEmptyText):
		return ReasonEmptyText, false
	case errors.Is(err, ai.ErrProviderInvalidResponse):
		return ReasonProviderInvalid, true
	case errors.Is(err, ai.ErrProviderUnreachable):
		return ReasonProviderUnreachable, true
	case errors.Is(err, ai.ErrConfigurationMissing):
		return ReasonConfigurationMissing, true
	default:
		return ReasonInternal, true
	}
}

func question(submission models.Submission) string {
	if strings.TrimSpace(submission.Question) != "" {
		return submission.Question
	}
	if submission.Assessment != nil {
		return submission.Assessment.GradingPrompt()
	}
	return ""
}

func maxScore(submission models.Submission) float64 {
	if submission.MaxScore > 0 {
		return submission.MaxScore
	}
	if submission.Assessment != nil && submission.Assessment.MaxScore > 0 {
		return submission.Assessment.MaxScore
	}
	return 100
}

func answerSummary(submission models.Submission) string {
	if submission.FileName == "" {
		return "submitted file"
	}
	return "submitted file: " + submission.FileName
}

func (s *gradingService) GradePending(ctx context.Context, limit int) (dto.BatchGradingResponse, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.repo.ListPendingIDs(ctx, repository.PendingFilter{
		Limit:       limit,
		MaxAttempts: s.cfg.MaxAttempts,
		StaleBefore: s.now().Add(-s.cfg.Lease),
	})
	if err != nil {
		return dto.BatchGradingResponse{}, err
	}

	response := dto.BatchGradingResponse{Requested: len(ids), Outcomes: []dto.GradingOutcomeResponse{}}
	var mu sync.Mutex
	group := new(errgroup.Group)
	group.SetLimit(s.cfg.Concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome, err := s.Grade(ctx, id)
			if err != nil {
				s.logger.Error().Err(err).Uint("submission_id", id).Msg("grading errored; continuing batch")
				outcome = dto.GradingOutcomeResponse{SubmissionID: id, State: OutcomeSkipped, Reason: ReasonInternal, Retryable: true}
			}

			mu.Lock()
			response.Outcomes = append(response.Outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(response.Outcomes, func(i, j int) bool {
		return response.Outcomes[i].SubmissionID < response.Outcomes[j].SubmissionID
	})
	for _, outcome := range response.Outcomes {
		switch outcome.State {
		case OutcomeGraded:
			response.Graded++
		case OutcomeFailed:
			response.Failed++
		case OutcomeReleased:
			response.Released++
		default:
			response.Skipped++
		}
	}
	response.Interrupted = ctx.Err() != nil

	s.logger.Info().
		Int("requested", response.Requested).
		Int("graded", response.Graded).
		Int("failed", response.Failed).
		Int("skipped", response.Skipped).
		Bool("interrupted", response.Interrupted).
		Msg("pending sweep finished")
	return response, nil
}

func (s *gradingService) ClearErrorFeedback(ctx context.Context, dryRun bool) (dto.ClearErrorFeedbackResponse, error) {
	response := dto.ClearErrorFeedbackResponse{DryRun: dryRun, Items: []dto.GradingSubmissionResponse{}}

	if dryRun {
		matches, err := s.repo.FindErrorFeedback(ctx, s.cfg.ErrorMarkers)
		if err != nil {
			return dto.ClearErrorFeedbackResponse{}, err
		}
		for _, submission := range matches {
			response.Items = append(response.Items, dto.NewGradingSubmissionResponse(submission))
		}
		response.Matched = len(matches)
		return response, nil
	}

	ids, err := s.repo.ClearErrorFeedback(ctx, s.cfg.ErrorMarkers)
	if err != nil {
		return dto.ClearErrorFeedbackResponse{}, err
	}
	response.Matched = len(ids)
	response.Cleared = len(ids)
	observability.ErrorFeedbackCleared().Add(float64(len(ids)))

	s.logger.Info().Int("cleared", len(ids)).Msg("error feedback cleared")
	return response, nil
}
