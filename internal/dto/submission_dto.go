package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// GradingSubmissionResponse is the API view of a submission's grading state. Failure reasons are
// exposed only to staff through this view; learners see null AI fields until grading succeeds.
type GradingSubmissionResponse struct {
	ID              uint       `json:"id"`
	AssessmentID    uint       `json:"assessment_id"`
	LearnerID       uint       `json:"learner_id"`
	SourceType      string     `json:"source_type"`
	SourceID        uint       `json:"source_id"`
	FileName        string     `json:"file_name"`
	AIScore         *float64   `json:"ai_score"`
	AIFeedback      *string    `json:"ai_feedback"`
	AIProvider      string     `json:"ai_provider,omitempty"`
	HumanScore      *float64   `json:"human_score"`
	HumanFeedback   *string    `json:"human_feedback"`
	ReviewedBy      *uint      `json:"reviewed_by,omitempty"`
	MaxScore        float64    `json:"max_score"`
	GradingState    string     `json:"grading_state"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	GradingAttempts int        `json:"grading_attempts"`
	GradedAt        *time.Time `json:"graded_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewGradingSubmissionResponse converts a Submission model into a DTO.
func NewGradingSubmissionResponse(model models.Submission) GradingSubmissionResponse {
	return GradingSubmissionResponse{
		ID:              model.ID,
		AssessmentID:    model.AssessmentID,
		LearnerID:       model.LearnerID,
		SourceType:      model.SourceType,
		SourceID:        model.SourceID,
		FileName:        model.FileName,
		AIScore:         model.AIScore,
		AIFeedback:      model.AIFeedback,
		AIProvider:      model.AIProvider,
		HumanScore:      model.HumanScore,
		HumanFeedback:   model.HumanFeedback,
		ReviewedBy:      model.ReviewedBy,
		MaxScore:        model.MaxScore,
		GradingState:    model.GradingState,
		FailureReason:   model.FailureReason,
		GradingAttempts: model.GradingAttempts,
		GradedAt:        model.GradedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

// ReviewSubmissionRequest records a teacher's grade for a submission.
type ReviewSubmissionRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback" validate:"max=10000"`
}

// RunPendingRequest bounds a batch grading sweep.
type RunPendingRequest struct {
	Limit int `json:"limit" query:"limit" validate:"omitempty,gte=1,lte=500"`
}

// ClearErrorFeedbackRequest controls the error feedback sweep.
type ClearErrorFeedbackRequest struct {
	DryRun bool `json:"dry_run" query:"dry_run"`
}

// GradingOutcomeResponse reports what happened to one submission.
type GradingOutcomeResponse struct {
	SubmissionID  uint     `json:"submission_id"`
	State         string   `json:"state"`
	Reason        string   `json:"reason,omitempty"`
	Retryable     bool     `json:"retryable"`
	Provider      string   `json:"provider,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Adjusted      bool     `json:"adjusted,omitempty"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
}

// BatchGradingResponse summarises a batch sweep.
type BatchGradingResponse struct {
	Requested   int                      `json:"requested"`
	Graded      int                      `json:"graded"`
	Failed      int                      `json:"failed"`
	Skipped     int                      `json:"skipped"`
	Released    int                      `json:"released"`
	Interrupted bool                     `json:"interrupted"`
	Outcomes    []GradingOutcomeResponse `json:"outcomes"`
}

// ClearErrorFeedbackResponse summarises the error feedback sweep.
type ClearErrorFeedbackResponse struct {
	DryRun  bool                        `json:"dry_run"`
	Matched int                         `json:"matched"`
	Cleared int                         `json:"cleared"`
	Items   []GradingSubmissionResponse `json:"items"`
}
