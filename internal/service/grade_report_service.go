package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

// DefaultLetterScale is used when a GRADE policy has no criteria of its own.
const DefaultLetterScale = "A:80,B+:75,B:70,C+:65,C:60,D+:55,D:50,F:0"

// Final labels under PASS_FAIL.
const (
	LabelPass = "PASS"
	LabelFail = "FAIL"
)

// LetterBand maps a minimum percentage to a letter.
type LetterBand struct {
	Label string
	Min   float64
}

// LetterScale is ordered from the highest band down.
type LetterScale []LetterBand

// ParseLetterScale parses "A:80,B:70,F:0" into a descending scale.
func ParseLetterScale(value string) (LetterScale, error) {
	var scale LetterScale
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, min, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("invalid letter band %q", part)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(min), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid letter band %q: %w", part, err)
		}
		scale = append(scale, LetterBand{Label: strings.TrimSpace(label), Min: threshold})
	}
	if len(scale) == 0 {
		return nil, errors.New("letter scale is empty")
	}

	sort.SliceStable(scale, func(i, j int) bool { return scale[i].Min > scale[j].Min })
	return scale, nil
}

// Letter returns the first band whose minimum the percentage reaches.
func (s LetterScale) Letter(percentage float64) string {
	for _, band := range s {
		if percentage >= band.Min {
			return band.Label
		}
	}
	if len(s) > 0 {
		return s[len(s)-1].Label
	}
	return ""
}

// GradeReportService builds learner grade reports from stored grades.
type GradeReportService interface {
	BuildReport(ctx context.Context, courseID, learnerID uint) (dto.GradeReport, error)
}

type gradeReportService struct {
	assessments repository.AssessmentRepository
	submissions repository.SubmissionRepository
	policies    repository.GradingPolicyRepository
	scale       LetterScale
	defaultPass float64
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewGradeReportService constructs the aggregator. defaultPass is the percentage used when neither
// the assessment nor the course policy sets a pass threshold.
func NewGradeReportService(assessments repository.AssessmentRepository, submissions repository.SubmissionRepository, policies repository.GradingPolicyRepository, scale LetterScale, defaultPass float64, logger zerolog.Logger) GradeReportService {
	if len(scale) == 0 {
		scale, _ = ParseLetterScale(DefaultLetterScale)
	}
	return &gradeReportService{
		assessments: assessments,
		submissions: submissions,
		policies:    policies,
		scale:       scale,
		defaultPass: defaultPass,
		logger:      logger.With().Str("component", "grade_report_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grade_report"),
	}
}

func (s *gradeReportService) BuildReport(ctx context.Context, courseID, learnerID uint) (dto.GradeReport, error) {
	ctx, span := s.tracer.Start(ctx, "grade_report.build", trace.WithAttributes(
		attribute.Int("course_id", int(courseID)),
		attribute.Int("learner_id", int(learnerID)),
	))
	defer span.End()

	fail := func(err error) (dto.GradeReport, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.GradeReport{}, err
	}

	var policy *models.GradingPolicy
	stored, err := s.policies.GetByCourse(ctx, courseID)
	switch {
	case err == nil:
		policy = &stored
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fail(err)
	}

	assessments, err := s.assessments.ListByCourse(ctx, courseID)
	if err != nil {
		return fail(err)
	}

	submissions, err := s.submissions.ListForLearner(ctx, courseID, learnerID)
	if err != nil {
		return fail(err)
	}

	report := buildGradeReport(policy, assessments, submissions, s.scale, s.defaultPass)
	report.CourseID = courseID
	report.LearnerID = learnerID

	s.logger.Debug().
		Uint("course_id", courseID).
		Uint("learner_id", learnerID).
		Int("assessments", len(assessments)).
		Msg("grade report built")
	return report, nil
}

type assessmentResult struct {
	assessment models.Assessment
	grade      dto.ComponentGrade
}

func buildGradeReport(policy *models.GradingPolicy, assessments []models.Assessment, submissions []models.Submission, scale LetterScale, defaultPass float64) dto.GradeReport {
	byAssessment := make(map[uint][]models.Submission, len(assessments))
	for _, submission := range submissions {
		byAssessment[submission.AssessmentID] = append(byAssessment[submission.AssessmentID], submission)
	}

	report := dto.GradeReport{
		Quizzes:     []dto.ComponentGrade{},
		Exams:       []dto.ComponentGrade{},
		Assignments: []dto.ComponentGrade{},
	}

	results := make([]assessmentResult, 0, len(assessments))
	for _, assessment := range assessments {
		grade := componentGrade(assessment, byAssessment[assessment.ID])
		// Quizzes and exams carry a verdict under either policy; only PASS_FAIL rolls it up.
		if policy != nil && isTested(assessment) {
			threshold := passThreshold(assessment, policy, defaultPass)
			grade.Threshold = &threshold
			if grade.Percentage != nil {
				passed := *grade.Percentage >= threshold
				grade.Passed = &passed
			}
		}
		results = append(results, assessmentResult{assessment: assessment, grade: grade})

		switch assessment.Kind {
		case models.AssessmentKindQuiz:
			report.Quizzes = append(report.Quizzes, grade)
		case models.AssessmentKindExam:
			report.Exams = append(report.Exams, grade)
		default:
			report.Assignments = append(report.Assignments, grade)
		}
	}

	if policy == nil {
		return report
	}

	systemType := policy.SystemType
	report.SystemType = &systemType

	switch policy.SystemType {
	case models.GradingSystemPassFail:
		report.FinalGrade = passFailFinal(results)
	case models.GradingSystemGrade:
		report.Categories, report.FinalGrade = weightedFinal(policy, results, scale)
	}

	return report
}

func isTested(assessment models.Assessment) bool {
	return assessment.Kind == models.AssessmentKindQuiz || assessment.Kind == models.AssessmentKindExam
}

func componentGrade(assessment models.Assessment, submissions []models.Submission) dto.ComponentGrade {
	grade := dto.ComponentGrade{
		ID:       assessment.ID,
		Title:    assessment.Title,
		Category: assessment.Category,
		MaxScore: assessment.MaxScore,
		Status:   dto.ComponentStatusNotSubmitted,
	}
	if len(submissions) == 0 {
		return grade
	}

	var total float64
	for _, submission := range submissions {
		score := submission.AuthoritativeScore(assessment.AcceptAIScore)
		if score == nil {
			grade.Status = dto.ComponentStatusPending
			return grade
		}
		total += *score
	}

	grade.Status = dto.ComponentStatusGraded
	grade.Score = &total
	if assessment.MaxScore > 0 {
		percentage := round2(total / assessment.MaxScore * 100)
		grade.Percentage = &percentage
	}
	return grade
}

func passThreshold(assessment models.Assessment, policy *models.GradingPolicy, defaultPass float64) float64 {
	if assessment.PassThreshold != nil {
		return *assessment.PassThreshold
	}
	if policy != nil && policy.PassingScore != nil {
		return *policy.PassingScore
	}
	return defaultPass
}

// passFailFinal labels the course only once every quiz and exam has a verdict.
func passFailFinal(results []assessmentResult) *dto.FinalGrade {
	tested := 0
	passed := true
	for _, result := range results {
		if !isTested(result.assessment) {
			continue
		}
		tested++
		if result.grade.Passed == nil {
			return nil
		}
		passed = passed && *result.grade.Passed
	}
	if tested == 0 {
		return nil
	}

	label := LabelFail
	if passed {
		label = LabelPass
	}
	return &dto.FinalGrade{Label: label}
}

// weightedFinal averages item percentages per category and sums weight*average/100.
// A category with nothing graded contributes 0; its weight is not redistributed.
func weightedFinal(policy *models.GradingPolicy, results []assessmentResult, scale LetterScale) ([]dto.CategoryGrade, *dto.FinalGrade) {
	if len(policy.Weights) == 0 {
		return nil, nil
	}

	categories := make([]dto.CategoryGrade, 0, len(policy.Weights))
	var final float64
	for _, weight := range policy.Weights {
		category := dto.CategoryGrade{
			Category: weight.Category,
			Weight:   weight.Weight,
			Scores:   []float64{},
		}
		for _, result := range results {
			if !strings.EqualFold(result.assessment.Category, weight.Category) || result.grade.Percentage == nil {
				continue
			}
			category.Scores = append(category.Scores, *result.grade.Percentage)
		}

		if len(category.Scores) > 0 {
			var sum float64
			for _, score := range category.Scores {
				sum += score
			}
			average := round2(sum / float64(len(category.Scores)))
			category.Average = &average
			category.Contribution = round2(weight.Weight * average / 100)
		}

		final += category.Contribution
		categories = append(categories, category)
	}

	final = round2(final)
	return categories, &dto.FinalGrade{Percentage: &final, Label: letterFor(policy.Criteria, scale, final)}
}

func letterFor(criteria []models.GradeCriterion, scale LetterScale, percentage float64) string {
	if len(criteria) > 0 {
		ordered := make([]models.GradeCriterion, len(criteria))
		copy(ordered, criteria)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MinScore > ordered[j].MinScore })
		for _, criterion := range ordered {
			if percentage < criterion.MinScore {
				continue
			}
			if criterion.MaxScore != nil && percentage > *criterion.MaxScore {
				continue
			}
			return criterion.Grade
		}
	}
	return scale.Letter(percentage)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
