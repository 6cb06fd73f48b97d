package dto

import "github.com/noah-isme/gema-grading-api/internal/models"

// GradingPolicyRequest replaces a course's grading policy.
type GradingPolicyRequest struct {
	SystemType   string                  `json:"system_type" validate:"required,oneof=PASS_FAIL GRADE"`
	PassingScore *float64                `json:"passing_score" validate:"omitempty,gte=0,lte=100"`
	Criteria     []GradeCriterionRequest `json:"criteria" validate:"omitempty,dive"`
	Weights      []GradeWeightRequest    `json:"weights" validate:"omitempty,dive"`
}

// GradeCriterionRequest maps a percentage band to a letter.
type GradeCriterionRequest struct {
	Grade    string   `json:"grade" validate:"required,max=8"`
	MinScore float64  `json:"min_score" validate:"gte=0,lte=100"`
	MaxScore *float64 `json:"max_score" validate:"omitempty,gte=0,lte=100"`
}

// GradeWeightRequest assigns a category weight.
type GradeWeightRequest struct {
	Category string  `json:"category" validate:"required,max=64"`
	Weight   float64 `json:"weight" validate:"gte=0,lte=100"`
}

// GradingPolicyResponse is the API view of a course policy.
type GradingPolicyResponse struct {
	CourseID     uint                    `json:"course_id"`
	SystemType   string                  `json:"system_type"`
	PassingScore *float64                `json:"passing_score"`
	Criteria     []GradeCriterionRequest `json:"criteria"`
	Weights      []GradeWeightRequest    `json:"weights"`
}

// NewGradingPolicyResponse converts a policy model into a DTO.
func NewGradingPolicyResponse(policy models.GradingPolicy) GradingPolicyResponse {
	response := GradingPolicyResponse{
		CourseID:     policy.CourseID,
		SystemType:   policy.SystemType,
		PassingScore: policy.PassingScore,
		Criteria:     make([]GradeCriterionRequest, 0, len(policy.Criteria)),
		Weights:      make([]GradeWeightRequest, 0, len(policy.Weights)),
	}
	for _, criterion := range policy.Criteria {
		response.Criteria = append(response.Criteria, GradeCriterionRequest{
			Grade:    criterion.Grade,
			MinScore: criterion.MinScore,
			MaxScore: criterion.MaxScore,
		})
	}
	for _, weight := range policy.Weights {
		response.Weights = append(response.Weights, GradeWeightRequest{Category: weight.Category, Weight: weight.Weight})
	}
	return response
}
