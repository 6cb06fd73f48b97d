package models

import "time"

// TrainingDataRecord reconciles AI and human grading of one submission.
type TrainingDataRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SourceType      string    `gorm:"size:32;not null;uniqueIndex:idx_training_source" json:"source_type"`
	SourceID        uint      `gorm:"not null;uniqueIndex:idx_training_source" json:"source_id"`
	Question        *string   `gorm:"type:text" json:"question"`
	Answer          *string   `gorm:"type:text" json:"answer"`
	AIScore         *float64  `gorm:"column:ai_score" json:"ai_score"`
	AIFeedback      *string   `gorm:"column:ai_feedback;type:text" json:"ai_feedback"`
	HumanScore      *float64  `json:"human_score"`
	HumanFeedback   *string   `gorm:"type:text" json:"human_feedback"`
	MaxScore        *float64  `json:"max_score"`
	SchoolID        *uint     `gorm:"index" json:"school_id"`
	UsedForTraining bool      `gorm:"not null;default:false;index" json:"used_for_training"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
