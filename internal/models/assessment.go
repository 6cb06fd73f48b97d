package models

import "time"

// Assessment kinds.
const (
	AssessmentKindQuiz       = "quiz"
	AssessmentKindExam       = "exam"
	AssessmentKindAssignment = "assignment"
)

// Assessment is a gradable item in a course.
type Assessment struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	CourseID    uint    `gorm:"not null;index" json:"course_id"`
	SchoolID    *uint   `gorm:"index" json:"school_id"`
	Kind        string  `gorm:"size:16;not null" json:"kind"`
	Category    string  `gorm:"size:64;not null" json:"category"`
	Title       string  `gorm:"size:255;not null" json:"title"`
	Description string  `gorm:"type:text" json:"description"`
	MaxScore    float64 `gorm:"not null;default:100" json:"max_score"`
	// PassThreshold is a percentage; nil defers to the course policy.
	PassThreshold *float64   `json:"pass_threshold"`
	AcceptAIScore bool       `gorm:"not null" json:"accept_ai_score"`
	DueAt         *time.Time `json:"due_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GradingPrompt is the question text sent to a scoring provider.
func (a Assessment) GradingPrompt() string {
	if a.Description == "" {
		return a.Title
	}
	return a.Title + "\n\n" + a.Description
}
