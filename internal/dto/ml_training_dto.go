package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// MLTrainingStatsResponse summarises the dataset and the latest successful run.
type MLTrainingStatsResponse struct {
	TotalSamples         int64      `json:"total_samples"`
	SamplesWithAI        int64      `json:"samples_with_ai"`
	SamplesWithTeacher   int64      `json:"samples_with_teacher"`
	SamplesUsed          int64      `json:"samples_used_for_training"`
	LastTrainingAt       *time.Time `json:"last_training_at"`
	LastTrainingAccuracy *float64   `json:"last_training_accuracy"`
	LastTrainingMSE      *float64   `json:"last_training_mse"`
	LastTrainingMAE      *float64   `json:"last_training_mae"`
}

// MLTrainingSettingsRequest replaces the score weights. The weights must sum to 1.
type MLTrainingSettingsRequest struct {
	AIWeight      *float64 `json:"ai_weight" validate:"required,gte=0,lte=1"`
	TeacherWeight *float64 `json:"teacher_weight" validate:"required,gte=0,lte=1"`
}

// MLTrainingSettingsResponse is the API view of the score weights.
type MLTrainingSettingsResponse struct {
	SchoolID      *uint   `json:"school_id"`
	AIWeight      float64 `json:"ai_weight"`
	TeacherWeight float64 `json:"teacher_weight"`
	Configured    bool    `json:"configured"`
}

// MLTrainingScopeRequest selects the school a training action applies to.
type MLTrainingScopeRequest struct {
	SchoolID *uint `json:"school_id" query:"school_id"`
}

// MLTrainingHistoryQuery bounds the run history listing.
type MLTrainingHistoryQuery struct {
	Limit    int   `query:"limit" validate:"omitempty,gte=1,lte=100"`
	SchoolID *uint `query:"school_id"`
}

// MLTrainingRunResponse is one entry of the training history.
type MLTrainingRunResponse struct {
	ID            uint      `json:"id"`
	SchoolID      *uint     `json:"school_id"`
	Status        string    `json:"status"`
	Accuracy      *float64  `json:"accuracy"`
	MSE           *float64  `json:"mse"`
	MAE           *float64  `json:"mae"`
	Samples       int       `json:"samples"`
	AIWeight      float64   `json:"ai_weight"`
	TeacherWeight float64   `json:"teacher_weight"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewMLTrainingRunResponse converts a run model into a DTO.
func NewMLTrainingRunResponse(run models.MLTrainingRun) MLTrainingRunResponse {
	return MLTrainingRunResponse{
		ID:            run.ID,
		SchoolID:      run.SchoolID,
		Status:        run.Status,
		Accuracy:      run.Accuracy,
		MSE:           run.MSE,
		MAE:           run.MAE,
		Samples:       run.Samples,
		AIWeight:      run.AIWeight,
		TeacherWeight: run.TeacherWeight,
		ErrorMessage:  run.ErrorMessage,
		CreatedAt:     run.CreatedAt,
	}
}
