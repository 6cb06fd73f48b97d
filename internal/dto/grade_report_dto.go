package dto

// Component statuses reported for assessments.
const (
	ComponentStatusGraded       = "graded"
	ComponentStatusPending      = "pending"
	ComponentStatusNotSubmitted = "not_submitted"
)

// GradeReport is a learner's aggregated standing in a course.
type GradeReport struct {
	CourseID    uint             `json:"course_id"`
	LearnerID   uint             `json:"learner_id"`
	SystemType  *string          `json:"system_type"`
	FinalGrade  *FinalGrade      `json:"final_grade,omitempty"`
	Categories  []CategoryGrade  `json:"categories,omitempty"`
	Quizzes     []ComponentGrade `json:"quizzes"`
	Exams       []ComponentGrade `json:"exams"`
	Assignments []ComponentGrade `json:"assignments"`
}

// FinalGrade is the roll-up result. Percentage is absent under PASS_FAIL.
type FinalGrade struct {
	Percentage *float64 `json:"percentage"`
	Label      string   `json:"label"`
}

// CategoryGrade is one weighted category under the GRADE system.
type CategoryGrade struct {
	Category     string    `json:"category"`
	Weight       float64   `json:"weight"`
	Scores       []float64 `json:"scores"`
	Average      *float64  `json:"average"`
	Contribution float64   `json:"contribution"`
}

// ComponentGrade is a single quiz, exam, or assignment in the report.
type ComponentGrade struct {
	ID         uint     `json:"id"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	Score      *float64 `json:"score"`
	MaxScore   float64  `json:"max_score"`
	Percentage *float64 `json:"percentage"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Passed     *bool    `json:"passed,omitempty"`
	Status     string   `json:"status"`
}
