package models

import "time"

// Training run statuses.
const (
	TrainingRunCompleted = "completed"
	TrainingRunFailed    = "failed"
)

// MLTrainingSettings weights AI and teacher scores when building training targets. A nil SchoolID
// marks the global row.
type MLTrainingSettings struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SchoolID      *uint     `gorm:"uniqueIndex" json:"school_id"`
	AIWeight      float64   `gorm:"column:ai_weight;not null;default:0.3" json:"ai_weight"`
	TeacherWeight float64   `gorm:"column:teacher_weight;not null;default:0.7" json:"teacher_weight"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (MLTrainingSettings) TableName() string {
	return "ml_training_settings"
}

// MLTrainingRun is the history entry for one training attempt.
type MLTrainingRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SchoolID      *uint     `gorm:"index" json:"school_id"`
	Status        string    `gorm:"size:16;not null;index" json:"status"`
	Accuracy      *float64  `gorm:"column:accuracy" json:"accuracy"`
	MSE           *float64  `gorm:"column:mse" json:"mse"`
	MAE           *float64  `gorm:"column:mae" json:"mae"`
	Samples       int       `gorm:"not null;default:0" json:"samples"`
	AIWeight      float64   `gorm:"column:ai_weight" json:"ai_weight"`
	TeacherWeight float64   `gorm:"column:teacher_weight" json:"teacher_weight"`
	ErrorMessage  *string   `gorm:"type:text" json:"error_message"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (MLTrainingRun) TableName() string {
	return "ml_training_runs"
}
