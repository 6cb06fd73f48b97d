package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// TrainingDataItem is a human-reviewed grading sample.
type TrainingDataItem struct {
	ID              uint      `json:"id"`
	SourceType      string    `json:"source_type"`
	SourceID        uint      `json:"source_id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	AIScore         *float64  `json:"ai_score"`
	AIFeedback      *string   `json:"ai_feedback"`
	HumanScore      float64   `json:"human_score"`
	HumanFeedback   string    `json:"human_feedback"`
	MaxScore        *float64  `json:"max_score"`
	UsedForTraining bool      `json:"used_for_training"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewTrainingDataItem converts a reviewed record into a DTO.
func NewTrainingDataItem(record models.TrainingDataRecord) TrainingDataItem {
	item := TrainingDataItem{
		ID:              record.ID,
		SourceType:      record.SourceType,
		SourceID:        record.SourceID,
		AIScore:         record.AIScore,
		AIFeedback:      record.AIFeedback,
		MaxScore:        record.MaxScore,
		UsedForTraining: record.UsedForTraining,
		CreatedAt:       record.CreatedAt,
	}
	if record.Question != nil {
		item.Question = *record.Question
	}
	if record.Answer != nil {
		item.Answer = *record.Answer
	}
	if record.HumanScore != nil {
		item.HumanScore = *record.HumanScore
	}
	if record.HumanFeedback != nil {
		item.HumanFeedback = *record.HumanFeedback
	}
	return item
}

// TrainingDataQuery filters the training data export.
type TrainingDataQuery struct {
	Limit    int   `query:"limit" validate:"omitempty,gte=1,lte=5000"`
	SchoolID *uint `query:"school_id"`
}

// MarkUsedRequest flags records as consumed by a training run.
type MarkUsedRequest struct {
	IDs []uint `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// MarkUsedResponse reports how many rows were touched.
type MarkUsedResponse struct {
	Requested int   `json:"requested"`
	Updated   int64 `json:"updated"`
}

// TrainingSyncRequest scopes a backfill run.
type TrainingSyncRequest struct {
	SchoolID *uint `json:"school_id"`
}

// TrainingSyncResponse reports how many records were backfilled per source type.
type TrainingSyncResponse struct {
	ExamSynced       int `json:"exam_synced"`
	AssignmentSynced int `json:"assignment_synced"`
}
