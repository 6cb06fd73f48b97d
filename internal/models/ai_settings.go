package models

import "time"

// AISettings configures AI scoring for a school; a nil SchoolID marks the global row.
type AISettings struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SchoolID      *uint     `gorm:"uniqueIndex" json:"school_id"`
	Provider      string    `gorm:"size:16;not null" json:"provider"`
	MLAPIURL      string    `gorm:"size:512" json:"ml_api_url"`
	APIKey        string    `gorm:"size:512" json:"-"`
	Enabled       bool      `gorm:"not null" json:"enabled"`
	FallbackOrder string    `gorm:"size:64" json:"fallback_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (AISettings) TableName() string {
	return "ai_settings"
}
