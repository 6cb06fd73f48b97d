package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grading states a submission moves through.
const (
	GradingStatePending    = "pending"
	GradingStateRetrieving = "retrieving"
	GradingStateExtracting = "extracting"
	GradingStateScoring    = "scoring"
	GradingStateGraded     = "graded"
	GradingStateFailed     = "failed"
)

// Submission source types.
const (
	SourceTypeExam       = "exam"
	SourceTypeAssignment = "assignment"
)

// Submission is a learner's answer artifact for one assessment item.
type Submission struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	AssessmentID    uint              `gorm:"not null;index" json:"assessment_id"`
	LearnerID       uint              `gorm:"not null;index" json:"learner_id"`
	SchoolID        *uint             `gorm:"index" json:"school_id"`
	SourceType      string            `gorm:"size:32;not null;uniqueIndex:idx_submission_source" json:"source_type"`
	SourceID        uint              `gorm:"not null;uniqueIndex:idx_submission_source" json:"source_id"`
	Question        string            `gorm:"type:text" json:"question,omitempty"`
	FileName        string            `gorm:"size:255" json:"file_name"`
	FileURL         string            `gorm:"size:1024" json:"file_url"`
	StorageKey      string            `gorm:"size:512" json:"storage_key,omitempty"`
	AIScore         *float64          `gorm:"column:ai_score" json:"ai_score"`
	AIFeedback      *string           `gorm:"column:ai_feedback;type:text" json:"ai_feedback"`
	AIProvider      string            `gorm:"column:ai_provider;size:16" json:"ai_provider,omitempty"`
	HumanScore      *float64          `json:"human_score"`
	HumanFeedback   *string           `gorm:"type:text" json:"human_feedback"`
	ReviewedBy      *uint             `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time        `json:"reviewed_at,omitempty"`
	MaxScore        float64           `gorm:"not null;default:100" json:"max_score"`
	GradingState    string            `gorm:"size:16;not null;default:pending;index" json:"grading_state"`
	FailureReason   *string           `gorm:"type:text" json:"failure_reason,omitempty"`
	FailureRetry    bool              `gorm:"not null;default:false" json:"failure_retryable"`
	GradingAttempts int               `gorm:"not null;default:0" json:"grading_attempts"`
	ClaimToken      string            `gorm:"size:64" json:"-"`
	ClaimedAt       *time.Time        `json:"claimed_at,omitempty"`
	GradedAt        *time.Time        `json:"graded_at,omitempty"`
	GradingMetadata datatypes.JSONMap `gorm:"type:json" json:"grading_metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Assessment      *Assessment       `gorm:"foreignKey:AssessmentID" json:"assessment,omitempty"`
}

// TableName keeps grading submissions apart from upload records.
func (Submission) TableName() string {
	return "grading_submissions"
}

// IsFinalized reports whether a human grade has been recorded.
func (s Submission) IsFinalized() bool {
	return s.HumanScore != nil
}

// AuthoritativeScore returns the human score, or the AI score when the assessment accepts it.
func (s Submission) AuthoritativeScore(acceptAI bool) *float64 {
	if s.HumanScore != nil {
		return s.HumanScore
	}
	if acceptAI && s.AIScore != nil {
		return s.AIScore
	}
	return nil
}

// Names lists every identifier the artifact is known by.
func (s Submission) Names() []string {
	return []string{s.FileName, s.StorageKey, s.FileURL}
}
