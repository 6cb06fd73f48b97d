package models

import "time"

// Grading system types.
const (
	GradingSystemPassFail = "PASS_FAIL"
	GradingSystemGrade    = "GRADE"
)

// GradingPolicy is a course's choice of grading system.
type GradingPolicy struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	CourseID     uint             `gorm:"not null;uniqueIndex" json:"course_id"`
	SystemType   string           `gorm:"size:16;not null" json:"system_type"`
	PassingScore *float64         `json:"passing_score"`
	Criteria     []GradeCriterion `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"criteria"`
	Weights      []GradeWeight    `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"weights"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// GradeCriterion maps a percentage band to a letter.
type GradeCriterion struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	PolicyID uint     `gorm:"not null;index" json:"policy_id"`
	Grade    string   `gorm:"size:8;not null" json:"grade"`
	MinScore float64  `gorm:"not null" json:"min_score"`
	MaxScore *float64 `json:"max_score"`
}

// GradeWeight is a category's share of the final percentage.
type GradeWeight struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	PolicyID uint    `gorm:"not null;index" json:"policy_id"`
	Category string  `gorm:"size:64;not null" json:"category"`
	Weight   float64 `gorm:"not null" json:"weight"`
}
