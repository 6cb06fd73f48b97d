package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

var (
	// ErrGradingPolicyNotFound indicates the course has no grading policy.
	ErrGradingPolicyNotFound = errors.New("grading policy not found")
	// ErrInvalidWeights indicates category weights do not add up to 100.
	ErrInvalidWeights = errors.New("category weights must sum to 100")
	// ErrInvalidCriterion indicates a criterion band is malformed.
	ErrInvalidCriterion = errors.New("grade criterion max score must not be below its min score")
)

// GradingPolicyService manages per-course grading policies.
type GradingPolicyService interface {
	Get(ctx context.Context, courseID uint) (dto.GradingPolicyResponse, error)
	Replace(ctx context.Context, courseID uint, req dto.GradingPolicyRequest) (dto.GradingPolicyResponse, error)
}

type gradingPolicyService struct {
	repo      repository.GradingPolicyRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradingPolicyService constructs the service.
func NewGradingPolicyService(repo repository.GradingPolicyRepository, validator *validator.Validate, logger zerolog.Logger) GradingPolicyService {
	return &gradingPolicyService{
		repo:      repo,
		validator: validator,
		logger:    logger.With().Str("component", "grading_policy_service").Logger(),
	}
}

func (s *gradingPolicyService) Get(ctx context.Context, courseID uint) (dto.GradingPolicyResponse, error) {
	policy, err := s.repo.GetByCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingPolicyResponse{}, ErrGradingPolicyNotFound
		}
		return dto.GradingPolicyResponse{}, err
	}

	return dto.NewGradingPolicyResponse(policy), nil
}

func (s *gradingPolicyService) Replace(ctx context.Context, courseID uint, req dto.GradingPolicyRequest) (dto.GradingPolicyResponse, error) {
	req.SystemType = strings.ToUpper(strings.TrimSpace(req.SystemType))
	if err := s.validator.Struct(req); err != nil {
		return dto.GradingPolicyResponse{}, err
	}

	policy := models.GradingPolicy{
		CourseID:     courseID,
		SystemType:   req.SystemType,
		PassingScore: req.PassingScore,
	}
	for _, criterion := range req.Criteria {
		if criterion.MaxScore != nil && *criterion.MaxScore < criterion.MinScore {
			return dto.GradingPolicyResponse{}, ErrInvalidCriterion
		}
		policy.Criteria = append(policy.Criteria, models.GradeCriterion{
			Grade:    strings.TrimSpace(criterion.Grade),
			MinScore: criterion.MinScore,
			MaxScore: criterion.MaxScore,
		})
	}

	if len(req.Weights) > 0 {
		var total float64
		for _, weight := range req.Weights {
			total += weight.Weight
			policy.Weights = append(policy.Weights, models.GradeWeight{
				Category: strings.TrimSpace(weight.Category),
				Weight:   weight.Weight,
			})
		}
		if math.Abs(total-100) > 0.01 {
			return dto.GradingPolicyResponse{}, ErrInvalidWeights
		}
	}

	if err := s.repo.Replace(ctx, &policy); err != nil {
		return dto.GradingPolicyResponse{}, err
	}

	s.logger.Info().Uint("course_id", courseID).Str("system_type", policy.SystemType).Msg("grading policy replaced")

	stored, err := s.repo.GetByCourse(ctx, courseID)
	if err != nil {
		return dto.GradingPolicyResponse{}, err
	}
	return dto.NewGradingPolicyResponse(stored), nil
}
